package service

import (
	"context"
	"fmt"
	"querycraft"
	"querycraft/pkg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaTestConfig() querycraft.AppConfig {
	var cfg querycraft.AppConfig
	cfg.Ollama.Timeout = time.Second
	cfg.Ollama.MaxTokens = 256
	cfg.Schema.CacheTTL = time.Minute
	return cfg
}

func schemaTestTables() []pkg.TableSchema {
	return []pkg.TableSchema{
		{Name: "querycraft_customer", Columns: []pkg.ColumnSchema{{Name: "id", DataType: "integer"}}},
		{Name: "querycraft_order", Columns: []pkg.ColumnSchema{{Name: "id", DataType: "integer"}}},
		{Name: "querycraft_product", Columns: []pkg.ColumnSchema{{Name: "id", DataType: "integer"}}},
	}
}

// memorySnapshotCache records operations so tests can assert the hit/miss
// and invalidation flow.
type memorySnapshotCache struct {
	snapshot    pkg.SchemaSnapshot
	filled      bool
	err         error
	gets        int
	sets        int
	invalidates int
}

func (slf *memorySnapshotCache) get() (pkg.SchemaSnapshot, bool, error) {
	slf.gets++
	if slf.err != nil {
		return pkg.SchemaSnapshot{}, false, slf.err
	}
	return slf.snapshot, slf.filled, nil
}

func (slf *memorySnapshotCache) set(snapshot pkg.SchemaSnapshot) {
	slf.sets++
	slf.snapshot = snapshot
	slf.filled = true
}

func (slf *memorySnapshotCache) invalidate() {
	slf.invalidates++
	slf.snapshot = pkg.SchemaSnapshot{}
	slf.filled = false
}

type stubSchemaFetcher struct {
	tables []pkg.TableSchema
	err    error
	calls  int
}

func (slf *stubSchemaFetcher) fetch(_ context.Context) ([]pkg.TableSchema, error) {
	slf.calls++
	return slf.tables, slf.err
}

func buildSchemaService(cfg querycraft.AppConfig, generator pkg.Generator, cache *memorySnapshotCache, fetcher *stubSchemaFetcher) *SchemaService {
	return newSchemaService(cfg, generator, cache, fetcher.fetch)
}

// ============ Cache and Refresh ============

func TestSchemaService_GetSchema_CacheMissFetchesAndStores(t *testing.T) {
	cache := &memorySnapshotCache{}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := buildSchemaService(schemaTestConfig(), nil, cache, fetcher).
		GetSchema(context.Background(), "how many orders?")

	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, cache.sets)
	assert.Len(t, snapshot.Tables, 3)
	assert.Equal(t, "querycraft_order", snapshot.Synonyms["orders"], "derived synonyms are part of the stored snapshot")
	assert.True(t, cache.filled)
}

func TestSchemaService_GetSchema_CacheHitSkipsFetch(t *testing.T) {
	tables := schemaTestTables()
	cache := &memorySnapshotCache{
		snapshot: pkg.SchemaSnapshot{Tables: tables, Synonyms: pkg.DeriveSynonyms(tables, nil)},
		filled:   true,
	}
	fetcher := &stubSchemaFetcher{tables: tables}

	snapshot, err := buildSchemaService(schemaTestConfig(), nil, cache, fetcher).
		GetSchema(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.calls, "a warm cache must not hit the database")
	assert.Len(t, snapshot.Tables, 3)
}

func TestSchemaService_GetSchema_CacheErrorPropagates(t *testing.T) {
	cache := &memorySnapshotCache{err: fmt.Errorf("redis error: connection refused")}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	_, err := buildSchemaService(schemaTestConfig(), nil, cache, fetcher).
		GetSchema(context.Background(), "q")

	require.Error(t, err)
	assert.Equal(t, 0, fetcher.calls)
}

func TestSchemaService_Refresh_InvalidatesAndRefetches(t *testing.T) {
	stale := []pkg.TableSchema{{Name: "querycraft_old"}}
	cache := &memorySnapshotCache{
		snapshot: pkg.SchemaSnapshot{Tables: stale},
		filled:   true,
	}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := buildSchemaService(schemaTestConfig(), nil, cache, fetcher).
		Refresh(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidates)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, cache.sets)
	assert.Len(t, snapshot.Tables, 3)
	assert.Len(t, cache.snapshot.Tables, 3, "refreshed snapshot replaces the stale one")
}

func TestSchemaService_Refresh_FetchErrorLeavesCacheEmpty(t *testing.T) {
	cache := &memorySnapshotCache{}
	fetcher := &stubSchemaFetcher{err: fmt.Errorf("connection refused")}

	_, err := buildSchemaService(schemaTestConfig(), nil, cache, fetcher).
		Refresh(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch schema")
	assert.Equal(t, 0, cache.sets)
}

func TestSchemaService_GetSchema_AppliesConfiguredSynonyms(t *testing.T) {
	cfg := schemaTestConfig()
	cfg.Schema.Synonyms = map[string]string{"clients": "querycraft_customer"}
	cache := &memorySnapshotCache{}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := buildSchemaService(cfg, nil, cache, fetcher).
		GetSchema(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, "querycraft_customer", snapshot.Synonyms["clients"])
}

// ============ Relevance Filter ============

func filterTestService(generator pkg.Generator, cache *memorySnapshotCache, fetcher *stubSchemaFetcher) *SchemaService {
	cfg := schemaTestConfig()
	cfg.Pipeline.SchemaFilterEnabled = true
	return buildSchemaService(cfg, generator, cache, fetcher)
}

func TestSchemaService_Filter_NarrowsToNamedTables(t *testing.T) {
	generator := &stubGenerator{responses: []string{"querycraft_order, querycraft_customer"}}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := filterTestService(generator, &memorySnapshotCache{}, fetcher).
		GetSchema(context.Background(), "how many orders per customer?")

	require.NoError(t, err)
	require.Len(t, snapshot.Tables, 2)
	assert.Equal(t, "querycraft_customer", snapshot.Tables[0].Name)
	assert.Equal(t, "querycraft_order", snapshot.Tables[1].Name)
	assert.NotEmpty(t, snapshot.Synonyms, "the synonym table survives narrowing")
	require.Len(t, generator.prompts, 1)
	assert.Contains(t, generator.prompts[0], "querycraft_product")
}

func TestSchemaService_Filter_KeepsFullSchemaWhenNothingMatches(t *testing.T) {
	generator := &stubGenerator{responses: []string{"no idea, maybe warehouse_stock?"}}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := filterTestService(generator, &memorySnapshotCache{}, fetcher).
		GetSchema(context.Background(), "q")

	require.NoError(t, err)
	assert.Len(t, snapshot.Tables, 3)
}

func TestSchemaService_Filter_GeneratorErrorFallsBackToFullSchema(t *testing.T) {
	generator := &stubGenerator{err: &pkg.GenerationFailure{Kind: pkg.FailureUnavailable, Message: "refused"}}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := filterTestService(generator, &memorySnapshotCache{}, fetcher).
		GetSchema(context.Background(), "q")

	require.NoError(t, err, "a broken filter must not fail the run")
	assert.Len(t, snapshot.Tables, 3)
}

func TestSchemaService_Filter_SkippedWithoutQuestion(t *testing.T) {
	generator := &stubGenerator{err: &pkg.GenerationFailure{Kind: pkg.FailureProvider, Message: "must not be called"}}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := filterTestService(generator, &memorySnapshotCache{}, fetcher).
		GetSchema(context.Background(), "")

	require.NoError(t, err)
	assert.Empty(t, generator.prompts)
	assert.Len(t, snapshot.Tables, 3)
}

func TestSchemaService_Filter_SkippedWhenDisabled(t *testing.T) {
	generator := &stubGenerator{responses: []string{"querycraft_order"}}
	fetcher := &stubSchemaFetcher{tables: schemaTestTables()}

	snapshot, err := buildSchemaService(schemaTestConfig(), generator, &memorySnapshotCache{}, fetcher).
		GetSchema(context.Background(), "how many orders?")

	require.NoError(t, err)
	assert.Empty(t, generator.prompts)
	assert.Len(t, snapshot.Tables, 3)
}

// ============ Table List Parsing ============

func TestParseTableList(t *testing.T) {
	wanted := parseTableList("querycraft_order, Querycraft_Customer\n`querycraft_product`")

	assert.True(t, wanted["querycraft_order"])
	assert.True(t, wanted["querycraft_customer"])
	assert.True(t, wanted["querycraft_product"])
	assert.Len(t, wanted, 3)
}

func TestParseTableList_StripsDecorations(t *testing.T) {
	wanted := parseTableList("- \"querycraft_order\"\n* 'querycraft_customer'.\n,\n  ")

	assert.True(t, wanted["querycraft_order"])
	assert.True(t, wanted["querycraft_customer"])
	assert.Len(t, wanted, 2)
}

func TestParseTableList_Empty(t *testing.T) {
	assert.Empty(t, parseTableList(""))
	assert.Empty(t, parseTableList(" , ,\n"))
}
