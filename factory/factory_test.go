package factory_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/memstore"
	"github.com/jacentio/grove/schema"
)

// --- Test Fixtures ---

func testModels() *schema.Registry {
	models := schema.NewRegistry()
	models.Register(schema.Model{Name: "user", Table: "users"})
	models.Register(schema.Model{
		Name:  "post",
		Table: "posts",
		Associations: []factory.Association{
			{Alias: "author", Kind: factory.One, Target: "user"},
			{Alias: "comments", Kind: factory.Many, Target: "comment"},
			{Alias: "editor", Kind: factory.One, Target: "editor"},
		},
	})
	return models
}

func newFactory(t *testing.T) (*factory.Factory, *memstore.Store) {
	t.Helper()
	s := memstore.New(testModels())
	return factory.New(s), s
}

type failingPersister struct {
	err error
}

func (p failingPersister) CreateRecord(context.Context, string, factory.Attrs) (factory.Record, error) {
	return nil, p.err
}

func (p failingPersister) Associations(context.Context, string) ([]factory.Association, error) {
	return nil, nil
}

// --- Build ---

func TestBuild_UserScenario(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").
		Attr("email", "a@test.com").
		Attr("age", 0, factory.AutoIncrement(5))

	ctx := context.Background()

	first, err := f.Build(ctx, "user", nil)
	require.NoError(t, err)
	assert.Equal(t, factory.Attrs{"email": "a@test.com", "age": 5}, first)

	second, err := f.Build(ctx, "user", nil)
	require.NoError(t, err)
	assert.Equal(t, factory.Attrs{"email": "a@test.com", "age": 10}, second)
}

func TestBuild_AutoIncrementSteps(t *testing.T) {
	tests := []struct {
		name string
		step int
		want []int
	}{
		{name: "step 1", step: 1, want: []int{1, 2, 3, 4}},
		{name: "step 3", step: 3, want: []int{3, 6, 9, 12}},
		{name: "zero step becomes 1", step: 0, want: []int{1, 2, 3, 4}},
		{name: "negative step becomes 1", step: -4, want: []int{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFactory(t)
			f.Define("counter").Attr("n", 0, factory.AutoIncrement(tt.step))

			bags, err := f.BuildN(context.Background(), "counter", len(tt.want), nil)
			require.NoError(t, err)

			got := make([]int, len(bags))
			for i, bag := range bags {
				got[i] = bag["n"].(int)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_AutoIncrementSeedsFromBase(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("counter").Attr("n", 10, factory.AutoIncrement(1))

	bp, ok := f.Registry().Lookup("counter")
	require.True(t, ok)
	start, _ := bp.Sequence("n")
	assert.Equal(t, int64(10), start)

	bags, err := f.BuildN(context.Background(), "counter", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 21, bags[0]["n"])
	assert.Equal(t, 22, bags[1]["n"])
}

func TestBuild_AutoIncrementString(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("username", "user", factory.AutoIncrement(1))

	bags, err := f.BuildN(context.Background(), "user", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "user1", bags[0]["username"])
	assert.Equal(t, "user2", bags[1]["username"])
	assert.Equal(t, "user3", bags[2]["username"])
}

func TestBuild_AutoIncrementGenerator(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("email", func() any { return "mail" }, factory.AutoIncrement(2))

	bags, err := f.BuildN(context.Background(), "user", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "mail2", bags[0]["email"])
	assert.Equal(t, "mail4", bags[1]["email"])
}

func TestBuild_Literal(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("thing").
		Attr("name", "widget").
		Attr("price", 9.5).
		Attr("tags", []any{"a", "b"}).
		Attr("missing", nil)

	bag, err := f.Build(context.Background(), "thing", nil)
	require.NoError(t, err)
	assert.Equal(t, factory.Attrs{
		"name":    "widget",
		"price":   9.5,
		"tags":    []any{"a", "b"},
		"missing": nil,
	}, bag)
}

func TestBuild_LiteralsAreCopied(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("thing").Attr("meta", map[string]any{"k": "v"})

	first, err := f.Build(context.Background(), "thing", nil)
	require.NoError(t, err)
	first["meta"].(map[string]any)["k"] = "mutated"

	second, err := f.Build(context.Background(), "thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", second["meta"].(map[string]any)["k"])
}

func TestBuild_Generators(t *testing.T) {
	f, _ := newFactory(t)
	calls := 0
	f.Define("thing").
		Attr("plain", func() any { calls++; return calls }).
		Attr("fallible", func() (any, error) { return "ok", nil }).
		Attr("ctx", func(ctx context.Context) (any, error) { return ctx.Err() == nil, nil }).
		Attr("value", factory.Generate(func(context.Context) (any, error) { return 42, nil }))

	bag, err := f.Build(context.Background(), "thing", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, bag["plain"])
	assert.Equal(t, "ok", bag["fallible"])
	assert.Equal(t, true, bag["ctx"])
	assert.Equal(t, 42, bag["value"])
}

func TestBuild_OverridesWin(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").
		Attr("email", "a@test.com").
		Attr("age", 0, factory.AutoIncrement(5)).
		Attr("token", func() any { return "generated" })

	bag, err := f.Build(context.Background(), "user", factory.Attrs{
		"email": "b@test.com",
		"age":   99,
		"token": "fixed",
		"extra": func() any { return "computed" },
	})
	require.NoError(t, err)
	assert.Equal(t, factory.Attrs{
		"email": "b@test.com",
		"age":   99,
		"token": "fixed",
		"extra": "computed",
	}, bag)

	bp, _ := f.Registry().Lookup("user")
	seq, _ := bp.Sequence("age")
	assert.Equal(t, int64(0), seq, "overridden sequence must not advance")
}

func TestBuild_OverrideMergesNestedMaps(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("profile", map[string]any{
		"name":  "Ada",
		"prefs": map[string]any{"theme": "dark", "lang": "en"},
	})

	bag, err := f.Build(context.Background(), "user", factory.Attrs{
		"profile": map[string]any{"prefs": map[string]any{"lang": "fr"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "Ada",
		"prefs": map[string]any{"theme": "dark", "lang": "fr"},
	}, bag["profile"])
}

func TestBuild_Idempotent(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").
		Attr("email", "a@test.com").
		Attr("profile", map[string]any{"name": "Ada"})

	overrides := factory.Attrs{"role": "admin"}
	first, err := f.Build(context.Background(), "user", overrides)
	require.NoError(t, err)
	second, err := f.Build(context.Background(), "user", overrides)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuild_UndefinedBlueprint(t *testing.T) {
	f, _ := newFactory(t)

	_, err := f.Build(context.Background(), "missingBlueprint", nil)
	require.ErrorIs(t, err, factory.ErrUndefinedBlueprint)

	fut, err := f.BuildAsync(context.Background(), "missingBlueprint", nil)
	require.ErrorIs(t, err, factory.ErrUndefinedBlueprint)
	assert.Nil(t, fut)

	called := false
	err = f.BuildFunc(context.Background(), "missingBlueprint", nil, func(factory.Attrs, error) { called = true })
	require.ErrorIs(t, err, factory.ErrUndefinedBlueprint)
	assert.False(t, called)

	_, err = f.Create(context.Background(), "missingBlueprint", nil)
	require.ErrorIs(t, err, factory.ErrUndefinedBlueprint)
}

func TestBuild_GeneratorErrorIsWrapped(t *testing.T) {
	f, _ := newFactory(t)
	boom := errors.New("boom")
	f.Define("thing").Attr("bad", func() (any, error) { return nil, boom })

	_, err := f.Build(context.Background(), "thing", nil)
	require.ErrorIs(t, err, boom)

	var ferr *factory.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "build", ferr.Op)
	assert.Equal(t, "thing", ferr.Blueprint)
	assert.Contains(t, ferr.Detail, "boom")
	assert.Contains(t, err.Error(), `attribute "bad"`)
}

func TestBuild_ConcurrentSequencesAreUnique(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("n", 0, factory.AutoIncrement(5))

	const workers = 20
	var wg sync.WaitGroup
	values := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bag, err := f.Build(context.Background(), "user", nil)
			if err == nil {
				values[i] = bag["n"].(int)
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(values)
	for i, v := range values {
		assert.Equal(t, (i+1)*5, v)
	}
}

func TestBuild_GeneratorsAndLiteralsMixed(t *testing.T) {
	f, _ := newFactory(t)
	bp := f.Define("wide")
	// generator keys sort before the literals, so they start first
	for i := 0; i < 50; i++ {
		i := i
		bp.Attr(fmt.Sprintf("a%02d", i), func() any { return i })
	}
	for i := 0; i < 200; i++ {
		bp.Attr(fmt.Sprintf("z%03d", i), i)
	}

	for n := 0; n < 50; n++ {
		bag, err := f.Build(context.Background(), "wide", nil)
		require.NoError(t, err)
		require.Len(t, bag, 250)
		assert.Equal(t, 49, bag["a49"])
		assert.Equal(t, 199, bag["z199"])
	}
}

// --- Async and callbacks ---

func TestBuildAsync(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")

	fut, err := f.BuildAsync(context.Background(), "user", nil)
	require.NoError(t, err)

	bag, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@test.com", bag["email"])

	select {
	case <-fut.Done():
	default:
		t.Fatal("expected future to be done after Wait")
	}
}

func TestCreateFunc(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")

	done := make(chan factory.Record, 1)
	err := f.CreateFunc(context.Background(), "user", nil, func(rec factory.Record, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- rec
	})
	require.NoError(t, err)

	rec := <-done
	assert.Equal(t, "a@test.com", rec["email"])
	assert.Equal(t, 1, s.Count("user"))
}

func TestBuildFunc(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")

	done := make(chan factory.Attrs, 1)
	require.NoError(t, f.BuildFunc(context.Background(), "user", nil, func(bag factory.Attrs, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- bag
	}))
	assert.Equal(t, "a@test.com", (<-done)["email"])
}

// --- Create ---

func TestCreate_RoundTrip(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "a@test.com").Attr("name", "Ada")

	built, err := f.Build(context.Background(), "user", nil)
	require.NoError(t, err)

	rec, err := f.Create(context.Background(), "user", nil)
	require.NoError(t, err)
	require.NotNil(t, rec.ID())

	for k, v := range built {
		assert.Equal(t, v, rec[k], "attribute %q", k)
	}

	stored, err := s.Get("user", rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestCreate_UsesBlueprintModel(t *testing.T) {
	f, s := newFactory(t)
	f.Define("admin", factory.Model("user")).Attr("role", "admin")

	_, err := f.Create(context.Background(), "admin", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count("user"))
	assert.Equal(t, 0, s.Count("admin"))
}

func TestCreate_Association(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")
	f.Define("post").
		Attr("title", "Hello").
		Attr("author", "user", factory.AsAssociation())

	post, err := f.Create(context.Background(), "post", nil)
	require.NoError(t, err)

	users := s.Records("user")
	require.Len(t, users, 1)
	assert.Equal(t, users[0].ID(), post["author"])
}

func TestBuild_AssociationCreatesDependency(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")
	f.Define("post").Attr("author", "user", factory.AsAssociation())

	bag, err := f.Build(context.Background(), "post", nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.Count("user"))
	assert.Equal(t, s.Records("user")[0].ID(), bag["author"])
	assert.Equal(t, 0, s.Count("post"))
}

func TestCreate_AssociationOverrides(t *testing.T) {
	tests := []struct {
		name      string
		override  func(existing factory.Record) any
		wantUsers int
		wantEmail string
	}{
		{
			name:      "blueprint name",
			override:  func(factory.Record) any { return "admin" },
			wantUsers: 2,
			wantEmail: "root@test.com",
		},
		{
			name:      "empty name falls back to default",
			override:  func(factory.Record) any { return "" },
			wantUsers: 2,
			wantEmail: "a@test.com",
		},
		{
			name:      "record",
			override:  func(existing factory.Record) any { return existing },
			wantUsers: 1,
		},
		{
			name:      "map with id",
			override:  func(existing factory.Record) any { return map[string]any{"id": existing.ID()} },
			wantUsers: 1,
		},
		{
			name:      "raw identifier",
			override:  func(existing factory.Record) any { return existing.ID() },
			wantUsers: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s := newFactory(t)
			f.Define("user").Attr("email", "a@test.com")
			f.Define("admin").Parent("user").Attr("email", "root@test.com")
			f.Define("post").Attr("author", "user", factory.AsAssociation())

			existing, err := f.Create(context.Background(), "user", factory.Attrs{"id": 7})
			require.NoError(t, err)

			post, err := f.Create(context.Background(), "post", factory.Attrs{"author": tt.override(existing)})
			require.NoError(t, err)
			require.Equal(t, tt.wantUsers, s.Count("user"))

			author, err := s.Get("user", post["author"])
			require.NoError(t, err)
			if tt.wantEmail != "" {
				assert.Equal(t, tt.wantEmail, author["email"])
			} else {
				assert.Equal(t, existing.ID(), author.ID())
			}
		})
	}
}

func TestCreate_AssociationGeneratorOverride(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")
	f.Define("post").Attr("author", "user", factory.AsAssociation())

	post, err := f.Create(context.Background(), "post", factory.Attrs{
		"author": func() any { return "fixed-id" },
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", post["author"])
	assert.Equal(t, 0, s.Count("user"))
}

func TestCreate_UnsupportedAssociation(t *testing.T) {
	tests := []struct {
		name  string
		alias string
		bp    string
	}{
		{name: "to-many association", alias: "comments", bp: "user"},
		{name: "unknown alias", alias: "reviewer", bp: "user"},
		{name: "target model mismatch", alias: "author", bp: "tag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s := newFactory(t)
			f.Define("user").Attr("email", "a@test.com")
			f.Define("tag").Attr("label", "go")
			f.Define("post").Attr(tt.alias, tt.bp, factory.AsAssociation())

			_, err := f.Create(context.Background(), "post", nil)
			require.ErrorIs(t, err, factory.ErrUnsupportedAssociation)
			assert.Equal(t, 0, s.Count("post"))
		})
	}
}

func TestCreate_AssociationToUndefinedBlueprint(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("post").Attr("author", "ghost", factory.AsAssociation())

	_, err := f.Create(context.Background(), "post", nil)
	require.ErrorIs(t, err, factory.ErrUndefinedBlueprint)
}

func TestCreate_AssociationModelMatchIsCaseInsensitive(t *testing.T) {
	f, s := newFactory(t)
	f.Define("User").Attr("email", "a@test.com")
	f.Define("post").Attr("author", "User", factory.AsAssociation())

	_, err := f.Create(context.Background(), "post", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count("user"))
}

func TestCreate_PersistenceFailure(t *testing.T) {
	boom := errors.New("disk full")
	f := factory.New(failingPersister{err: boom})
	f.Define("user").Attr("email", "a@test.com")

	_, err := f.Create(context.Background(), "user", nil)
	require.ErrorIs(t, err, boom)

	var ferr *factory.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "create", ferr.Op)
	assert.Contains(t, ferr.Detail, "disk full")
}

func TestCreate_NoPersister(t *testing.T) {
	f := factory.New(nil)
	f.Define("user").Attr("email", "a@test.com")

	_, err := f.Build(context.Background(), "user", nil)
	require.NoError(t, err)

	_, err = f.Create(context.Background(), "user", nil)
	require.ErrorIs(t, err, factory.ErrNoPersister)
}

func TestCreateN(t *testing.T) {
	f, s := newFactory(t)
	f.Define("user").Attr("email", "user", factory.AutoIncrement(1))

	recs, err := f.CreateN(context.Background(), "user", 3, nil)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "user3", recs[2]["email"])
	assert.Equal(t, 3, s.Count("user"))
}

func TestCreate_CanceledContext(t *testing.T) {
	f, _ := newFactory(t)
	f.Define("user").Attr("email", "a@test.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Create(ctx, "user", nil)
	require.ErrorIs(t, err, context.Canceled)
}

// --- Metrics ---

func TestWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := factory.New(memstore.New(nil), factory.WithMetrics(reg))
	f.Define("user").Attr("email", "a@test.com")

	_, err := f.Build(context.Background(), "user", nil)
	require.NoError(t, err)
	_, err = f.Create(context.Background(), "user", nil)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "grove_materializations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			counts[labels["op"]+"/"+labels["outcome"]] += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), counts["build/ok"])
	assert.Equal(t, float64(1), counts["create/ok"])

	// A second factory on the same registry reuses the collectors.
	require.NotPanics(t, func() {
		factory.New(nil, factory.WithMetrics(reg))
	})
}

// --- Examples ---

func ExampleFactory_Build() {
	f := factory.New(nil)
	f.Define("user").
		Attr("email", "a@test.com").
		Attr("age", 0, factory.AutoIncrement(5))

	ctx := context.Background()
	first, _ := f.Build(ctx, "user", nil)
	second, _ := f.Build(ctx, "user", nil)

	fmt.Println(first)
	fmt.Println(second)
	// Output:
	// map[age:5 email:a@test.com]
	// map[age:10 email:a@test.com]
}
