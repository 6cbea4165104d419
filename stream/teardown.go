// Package stream provides DynamoDB Streams handlers that propagate fixture
// teardown from a record to the records depending on it.
package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/grove/store"
)

// Store is the subset of *store.Store the handler needs.
type Store interface {
	QueryAllDependents(ctx context.Context, dependencyRef string) ([]store.DependentRef, error)
	SetTTLByKey(ctx context.Context, table string, key store.PK, ttl int64) error
	SetRelationshipTTL(ctx context.Context, dependentRef, dependencyRef string, ttl int64) error
}

// Handler processes DynamoDB stream events for teardown cascades.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a new stream handler. A nil logger discards output.
func NewHandler(s Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleTeardown processes DynamoDB stream events and copies a torn down
// record's TTL onto its dependents. It is meant to be used as a Lambda handler
// subscribed to every record table's stream.
func (h *Handler) HandleTeardown(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process stream record",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
			return err // retried by the event source mapping
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if !teardownStarted(oldTTL, newTTL) {
		return nil
	}

	entityRef := getStringAttr(record.Change.NewImage, "entity_ref")
	if entityRef == "" {
		// relationship records and foreign items carry no entity_ref
		return nil
	}
	dependencyRefs := getStringListAttr(record.Change.NewImage, "dependency_refs")

	log := h.logger.With(zap.String("entityRef", entityRef), zap.Int64("ttl", newTTL))
	log.Info("processing teardown")

	dependents, err := h.store.QueryAllDependents(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query dependents: %w", err)
	}

	// Each updated dependent emits its own stream record, so the cascade
	// continues one level at a time.
	for _, dep := range dependents {
		if err := h.store.SetTTLByKey(ctx, dep.TableName, dep.Key, newTTL); err != nil {
			log.Warn("failed to set TTL on dependent",
				zap.String("dependent", dep.Ref),
				zap.Error(err),
			)
		}
	}

	for _, depRef := range dependencyRefs {
		if err := h.store.SetRelationshipTTL(ctx, entityRef, depRef, newTTL); err != nil {
			log.Warn("failed to set relationship TTL",
				zap.String("dependency", depRef),
				zap.Error(err),
			)
		}
	}

	log.Info("teardown propagated",
		zap.Int("dependents", len(dependents)),
		zap.Int("relationships", len(dependencyRefs)),
	)
	return nil
}

// teardownStarted reports whether a TTL change schedules the record for
// removal sooner than before.
func teardownStarted(oldTTL, newTTL int64) bool {
	if newTTL == 0 {
		return false
	}
	return oldTTL == 0 || newTTL < oldTTL
}

func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}

func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeList {
		return nil
	}
	var result []string
	for _, item := range v.List() {
		if item.DataType() == events.DataTypeString {
			result = append(result, item.String())
		}
	}
	return result
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	result := make(store.PK, len(streamKey))
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
