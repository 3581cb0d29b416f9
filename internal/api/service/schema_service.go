package service

import (
	"context"
	"fmt"
	"querycraft"
	"querycraft/pkg"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const schemaCacheKey = "querycraft:schema:snapshot"

// schemaRefreshMu sérialise les rafraîchissements; les lectures du cache
// restent concurrentes.
var schemaRefreshMu sync.Mutex

// snapshotCache is the storage seam for cached snapshots. The Redis-backed
// implementation is best effort: a failed set only costs a re-fetch later.
type snapshotCache interface {
	get() (pkg.SchemaSnapshot, bool, error)
	set(snapshot pkg.SchemaSnapshot)
	invalidate()
}

type redisSnapshotCache struct {
	ttl time.Duration
}

func (slf redisSnapshotCache) get() (pkg.SchemaSnapshot, bool, error) {
	var snapshot pkg.SchemaSnapshot
	if err := pkg.RedisGet(schemaCacheKey, &snapshot); err != nil {
		if pkg.IsRedisNil(err) {
			return pkg.SchemaSnapshot{}, false, nil
		}
		return pkg.SchemaSnapshot{}, false, fmt.Errorf("redis error: %w", err)
	}
	return snapshot, true, nil
}

func (slf redisSnapshotCache) set(snapshot pkg.SchemaSnapshot) {
	_ = pkg.RedisSet(schemaCacheKey, snapshot, slf.ttl)
}

func (slf redisSnapshotCache) invalidate() {
	_ = pkg.RedisDelete(schemaCacheKey)
}

// SchemaService supplies schema snapshots for pipeline runs. Snapshots are
// cached across runs; staleness up to the TTL is an accepted trade-off,
// callers needing the live schema must Refresh explicitly.
type SchemaService struct {
	logger    zerolog.Logger
	config    querycraft.AppConfig
	generator pkg.Generator
	cache     snapshotCache
	fetch     func(ctx context.Context) ([]pkg.TableSchema, error)
}

func NewSchemaService(generator pkg.Generator) *SchemaService {
	config := querycraft.GetConfig()
	return newSchemaService(config, generator, redisSnapshotCache{ttl: config.Schema.CacheTTL}, fetchTargetSchema)
}

// newSchemaService wires explicit collaborators, tests inject stubs here.
func newSchemaService(config querycraft.AppConfig, generator pkg.Generator, cache snapshotCache, fetch func(ctx context.Context) ([]pkg.TableSchema, error)) *SchemaService {
	return &SchemaService{
		logger:    querycraft.Logger,
		config:    config,
		generator: generator,
		cache:     cache,
		fetch:     fetch,
	}
}

// GetSchema returns the snapshot for one pipeline run. When the relevance
// filter is enabled the snapshot is narrowed to the tables the model deems
// useful for the question; on filter failure the full schema is used.
func (slf *SchemaService) GetSchema(ctx context.Context, question string) (pkg.SchemaSnapshot, error) {
	snapshot, err := slf.currentSnapshot(ctx)
	if err != nil {
		return pkg.SchemaSnapshot{}, err
	}

	if slf.config.Pipeline.SchemaFilterEnabled && slf.generator != nil && question != "" {
		filtered, err := slf.filterRelevantTables(ctx, question, snapshot)
		if err != nil {
			slf.logger.Warn().Err(err).Msg("schema relevance filter failed, using full schema")
		} else if len(filtered.Tables) > 0 {
			snapshot = filtered
		}
	}

	return snapshot, nil
}

// Refresh invalidates the cached snapshot and re-introspects the store.
func (slf *SchemaService) Refresh(ctx context.Context) (pkg.SchemaSnapshot, error) {
	schemaRefreshMu.Lock()
	defer schemaRefreshMu.Unlock()

	slf.cache.invalidate()

	snapshot, err := slf.fetchSnapshot(ctx)
	if err != nil {
		return pkg.SchemaSnapshot{}, err
	}
	slf.cache.set(snapshot)
	return snapshot, nil
}

func (slf *SchemaService) currentSnapshot(ctx context.Context) (pkg.SchemaSnapshot, error) {
	snapshot, ok, err := slf.cache.get()
	if err != nil {
		return pkg.SchemaSnapshot{}, err
	}
	if !ok {
		return slf.Refresh(ctx)
	}
	return snapshot, nil
}

func (slf *SchemaService) fetchSnapshot(ctx context.Context) (pkg.SchemaSnapshot, error) {
	tables, err := slf.fetch(ctx)
	if err != nil {
		return pkg.SchemaSnapshot{}, fmt.Errorf("failed to fetch schema: %w", err)
	}

	return pkg.SchemaSnapshot{
		Tables:   tables,
		Synonyms: pkg.DeriveSynonyms(tables, slf.config.Schema.Synonyms),
	}, nil
}

// fetchTargetSchema introspects whichever target store InitConfig connected.
func fetchTargetSchema(ctx context.Context) ([]pkg.TableSchema, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch {
	case querycraft.Pool != nil:
		return pkg.FindPostgresSchema(ctx, querycraft.Pool)
	case querycraft.SQLDB != nil:
		return pkg.FindSQLServerSchema(ctx, querycraft.SQLDB)
	default:
		return nil, fmt.Errorf("no target database connection")
	}
}

// filterRelevantTables asks the model which tables matter for the question
// and narrows the snapshot to those, keeping prompt size bounded on wide
// schemas. The full snapshot is kept when the answer names nothing valid.
func (slf *SchemaService) filterRelevantTables(ctx context.Context, question string, snapshot pkg.SchemaSnapshot) (pkg.SchemaSnapshot, error) {
	prompt := fmt.Sprintf(`You identify which database tables are relevant to a question.

Tables:
%s

Question: %s

Answer with a comma-separated list of table names only, no explanations.`,
		strings.Join(snapshot.TableNames(), "\n"), question)

	genCtx, cancel := context.WithTimeout(ctx, slf.config.Ollama.Timeout)
	defer cancel()

	resp, err := slf.generator.Generate(genCtx, pkg.GenerationRequest{
		Question:    question,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   slf.config.Ollama.MaxTokens,
	})
	if err != nil {
		return pkg.SchemaSnapshot{}, err
	}

	wanted := parseTableList(resp.Text)
	var kept []pkg.TableSchema
	for _, table := range snapshot.Tables {
		if wanted[strings.ToLower(table.Name)] {
			kept = append(kept, table)
		}
	}
	if len(kept) == 0 {
		return snapshot, nil
	}

	return pkg.SchemaSnapshot{Tables: kept, Synonyms: snapshot.Synonyms}, nil
}

// parseTableList tolerates commas, newlines and stray formatting around the
// names the model returns.
func parseTableList(text string) map[string]bool {
	wanted := make(map[string]bool)
	for _, chunk := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	}) {
		name := strings.Trim(strings.TrimSpace(chunk), "`\"'.-* ")
		if name != "" {
			wanted[strings.ToLower(name)] = true
		}
	}
	return wanted
}
