package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/internal/shard"
	"github.com/jacentio/grove/schema"
)

// API is the subset of the DynamoDB client used by Store.
// *dynamodb.Client satisfies it.
type API interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// managedFields are written by the store and never taken from attributes.
var managedFields = []string{"entity_ref", "version", "created_at", "updated_at", "ttl", "dependency_refs"}

// Store is a factory.Persister writing records into DynamoDB tables.
type Store struct {
	client API
	config Config
	schema *schema.Registry
	now    func() time.Time
}

// New creates a new Store. A nil registry means table names equal model names
// and no model has associations.
func New(client API, config Config, models *schema.Registry) *Store {
	config.validate()
	if models == nil {
		models = schema.NewRegistry()
	}
	return &Store{
		client: client,
		config: config,
		schema: models,
		now:    time.Now,
	}
}

// Schema returns the model registry.
func (s *Store) Schema() *schema.Registry {
	return s.schema
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(dependencyRef, dependentRef string) string {
	return shard.RelationshipPK(dependencyRef, dependentRef, s.config.NumShards)
}

// Associations returns the association metadata of model.
func (s *Store) Associations(ctx context.Context, model string) ([]factory.Association, error) {
	return s.schema.Associations(ctx, model)
}

// CreateRecord writes attrs as a new item of the model's table. A random id is
// assigned when attrs has none. Every to-one association present in attrs is
// checked for existence and recorded in the relationship table within the
// same transaction.
func (s *Store) CreateRecord(ctx context.Context, model string, attrs factory.Attrs) (factory.Record, error) {
	rec := make(factory.Record, len(attrs)+1)
	for k, v := range attrs {
		rec[k] = v
	}
	if rec.ID() == nil {
		rec["id"] = uuid.NewString()
	}
	id := fmt.Sprint(rec.ID())
	table := s.schema.TableName(model)
	ref := EntityRef(model, id)

	item, err := attributevalue.MarshalMap(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	for _, f := range managedFields {
		delete(item, f)
	}

	now := s.now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)
	nowISO := now.UTC().Format(time.RFC3339)

	items := []types.TransactWriteItem{}
	checkIndexes := make(map[int]string)
	var dependencyRefs []string

	// 1. Dependency checks and relationship records for to-one associations
	var relationships []types.TransactWriteItem
	for _, assoc := range s.schema.ToOne(model) {
		v, ok := attrs[assoc.Alias]
		if !ok || v == nil {
			continue
		}
		depID := fmt.Sprint(v)
		depRef := EntityRef(assoc.Target, depID)
		dependencyRefs = append(dependencyRefs, depRef)

		checkIndexes[len(items)] = depRef
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                aws.String(s.schema.TableName(assoc.Target)),
				Key:                      RecordKey(depID),
				ConditionExpression:      aws.String(DependencyExistsCondition()),
				ExpressionAttributeNames: TTLFilterNames(),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": &types.AttributeValueMemberN{Value: nowUnix},
				},
			},
		})

		relationships = append(relationships, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.RelationshipTable),
				Item: map[string]types.AttributeValue{
					"pk":              &types.AttributeValueMemberS{Value: s.relationshipPK(depRef, ref)},
					"dependent_ref":   &types.AttributeValueMemberS{Value: ref},
					"dependency_ref":  &types.AttributeValueMemberS{Value: depRef},
					"alias":           &types.AttributeValueMemberS{Value: assoc.Alias},
					"dependent_table": &types.AttributeValueMemberS{Value: table},
					"dependent_key":   &types.AttributeValueMemberM{Value: RecordKey(id)},
				},
			},
		})
	}

	// 2. Managed fields
	item["id"] = &types.AttributeValueMemberS{Value: id}
	item["entity_ref"] = &types.AttributeValueMemberS{Value: ref}
	item["version"] = &types.AttributeValueMemberN{Value: "1"}
	item["created_at"] = &types.AttributeValueMemberS{Value: nowISO}
	item["updated_at"] = &types.AttributeValueMemberS{Value: nowISO}
	if s.config.RecordTTL > 0 {
		item["ttl"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Add(s.config.RecordTTL).Unix(), 10),
		}
	}
	if len(dependencyRefs) > 0 {
		refsAttr, err := attributevalue.MarshalList(dependencyRefs)
		if err != nil {
			return nil, fmt.Errorf("marshal dependency refs: %w", err)
		}
		item["dependency_refs"] = &types.AttributeValueMemberL{Value: refsAttr}
	}

	// 3. The record put
	putIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})
	items = append(items, relationships...)

	// 4. Execute transaction
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err := s.mapCreateTransactionError(err, checkIndexes, putIndex); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get retrieves a record by id, returning ErrNotFound if torn down or missing.
func (s *Store) Get(ctx context.Context, model string, id string) (*Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.schema.TableName(model)),
		Key:       RecordKey(id),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	// Check if record is torn down (has expired TTL)
	if IsDeleted(result.Item) {
		return nil, ErrNotFound
	}

	return s.unmarshalItem(result.Item)
}

// Teardown removes a record by setting its TTL.
func (s *Store) Teardown(ctx context.Context, model, id string, opts TeardownOptions) error {
	ref := EntityRef(model, id)
	if opts.OrphanProtect && !opts.Cascade {
		hasDependents, err := s.HasActiveDependents(ctx, ref)
		if err != nil {
			return err
		}
		if hasDependents {
			return ErrHasDependents
		}
	}

	return s.SetTTLByKey(ctx, s.schema.TableName(model), RecordKey(id), s.now().Unix())
}

// HasActiveDependents checks if any active (not torn down) record depends on ref.
func (s *Store) HasActiveDependents(ctx context.Context, dependencyRef string) (bool, error) {
	now := s.now()
	numShards := s.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return s.hasActiveDependentsInShard(ctx, shard.Key(dependencyRef, 0), now)
	}

	// Multi-shard fan-out with early cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan bool, 1)
	errs := make(chan error, numShards)
	var wg sync.WaitGroup

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			default:
			}

			ok, err := s.hasActiveDependentsInShard(ctx, shard.Key(dependencyRef, shardNum), now)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				select {
				case found <- true:
					cancel()
				default:
				}
			}
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(found)
		close(errs)
	}()

	if <-found {
		return true, nil
	}
	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}
	return false, nil
}

func (s *Store) hasActiveDependentsInShard(ctx context.Context, shardPK string, now time.Time) (bool, error) {
	values := TTLFilterValues(now)
	values[":pk"] = &types.AttributeValueMemberS{Value: shardPK}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RelationshipTable),
		KeyConditionExpression:    aws.String("pk = :pk"),
		FilterExpression:          aws.String(TTLFilterExpr()),
		ExpressionAttributeNames:  TTLFilterNames(),
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(result.Items) > 0, nil
}

// QueryAllDependents returns all records depending on dependencyRef (including
// torn down ones). This is used by the teardown cascade.
func (s *Store) QueryAllDependents(ctx context.Context, dependencyRef string) ([]DependentRef, error) {
	numShards := s.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return s.queryShard(ctx, shard.Key(dependencyRef, 0))
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []DependentRef
	var wg sync.WaitGroup
	errs := make(chan error, numShards)

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			refs, err := s.queryShard(ctx, shard.Key(dependencyRef, shardNum))
			if err != nil {
				errs <- fmt.Errorf("shard %02x: %w", shardNum, err)
				return
			}

			mu.Lock()
			all = append(all, refs...)
			mu.Unlock()
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return all, nil
}

func (s *Store) queryShard(ctx context.Context, shardPK string) ([]DependentRef, error) {
	var refs []DependentRef

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			refs = append(refs, unmarshalDependentRef(item, shardPK))
		}
	}

	return refs, nil
}

// SetTTLByKey sets TTL on a record by table and key. A TTL is only ever
// moved earlier; records that already expire sooner are left alone.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND (attribute_not_exists(#ttl) OR #ttl > :ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     "ttl",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Ignore condition failure - missing or already expiring sooner
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SetRelationshipTTL sets TTL on the relationship record linking a dependent
// to one of its dependencies.
func (s *Store) SetRelationshipTTL(ctx context.Context, dependentRef, dependencyRef string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.RelationshipTable),
		Key: map[string]types.AttributeValue{
			"pk":            &types.AttributeValueMemberS{Value: s.relationshipPK(dependencyRef, dependentRef)},
			"dependent_ref": &types.AttributeValueMemberS{Value: dependentRef},
		},
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
		},
	})

	// Ignore condition failure - already has TTL
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// mapCreateTransactionError maps DynamoDB transaction errors for CreateRecord.
// checkIndexes maps dependency check positions to the dependency refs.
func (s *Store) mapCreateTransactionError(err error, checkIndexes map[int]string, putIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if ref, ok := checkIndexes[i]; ok {
				return fmt.Errorf("%w: %s", ErrDependencyNotFound, ref)
			}
			if i == putIndex {
				return ErrAlreadyExists
			}
		}
	}

	return err
}

// unmarshalItem converts a DynamoDB item to an Item struct.
func (s *Store) unmarshalItem(raw map[string]types.AttributeValue) (*Item, error) {
	item := &Item{Raw: raw}

	var rec map[string]any
	if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	item.Record = factory.Record(rec)

	if v, ok := raw["version"].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw["created_at"].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw["updated_at"].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw["entity_ref"].(*types.AttributeValueMemberS); ok {
		item.EntityRef = v.Value
	}
	if v, ok := raw["dependency_refs"].(*types.AttributeValueMemberL); ok {
		for _, e := range v.Value {
			if sv, ok := e.(*types.AttributeValueMemberS); ok {
				item.DependencyRefs = append(item.DependencyRefs, sv.Value)
			}
		}
	}

	return item, nil
}

// unmarshalDependentRef converts a relationship item to a DependentRef.
func unmarshalDependentRef(item map[string]types.AttributeValue, shardPK string) DependentRef {
	ref := DependentRef{ShardPK: shardPK}

	if v, ok := item["dependent_ref"].(*types.AttributeValueMemberS); ok {
		ref.Ref = v.Value
	}
	if v, ok := item["dependent_table"].(*types.AttributeValueMemberS); ok {
		ref.TableName = v.Value
	}
	if v, ok := item["dependent_key"].(*types.AttributeValueMemberM); ok {
		ref.Key = v.Value
	}

	return ref
}
