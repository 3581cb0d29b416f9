package service

import (
	"context"
	"errors"
	"fmt"
	"querycraft"
	"querycraft/pkg"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Method tags reported in results so callers know how the SQL was produced.
const (
	MethodOllama        = "ollama"
	MethodOllamaRepair  = "ollama+repair"
	MethodSimplePattern = "simple_pattern"
)

type pipelineState string

const (
	stateGenerating pipelineState = "generating"
	stateExtracting pipelineState = "extracting"
	stateValidating pipelineState = "validating"
	stateExecuting  pipelineState = "executing"
	stateDone       pipelineState = "done"
	stateFailed     pipelineState = "failed"
)

// PipelineResult is the external contract of a run. Field names and
// shapes are stable, clients depend on them.
type PipelineResult struct {
	Success  bool             `json:"success"`
	Question string           `json:"question"`
	SQLQuery *string          `json:"sql_query"`
	Method   *string          `json:"method"`
	Results  []map[string]any `json:"results"`
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
	Error    *string          `json:"error"`
}

// SchemaSource abstracts snapshot retrieval for the pipeline.
type SchemaSource interface {
	GetSchema(ctx context.Context, question string) (pkg.SchemaSnapshot, error)
}

// PipelineService runs the question-to-results pipeline: build a prompt
// from the live schema, generate SQL, extract it from the model output,
// validate it as read-only against known tables, then execute it against
// the target store.
type PipelineService struct {
	logger    zerolog.Logger
	config    querycraft.AppConfig
	schema    SchemaSource
	generator pkg.Generator
	executor  pkg.Executor
	extractor *pkg.Extractor
	audit     *AuditService
}

// NewGeneratorFromConfig returns the configured model client, or nil when
// generation is disabled and the pipeline should fall back to pattern
// matching.
func NewGeneratorFromConfig() pkg.Generator {
	config := querycraft.GetConfig()
	if !config.Ollama.Enabled {
		return nil
	}
	return pkg.NewOllamaClient(config.Ollama.Host, config.Ollama.Model)
}

func NewPipelineService(schema SchemaSource, generator pkg.Generator, audit *AuditService) *PipelineService {
	config := querycraft.GetConfig()

	var executor pkg.Executor
	if querycraft.Pool != nil {
		executor = pkg.NewPostgresExecutor(querycraft.Pool, config.Pipeline.QueryTimeout)
	} else {
		executor = pkg.NewSQLExecutor(querycraft.SQLDB, config.Pipeline.QueryTimeout)
	}

	return newPipelineService(config, schema, generator, executor, audit)
}

// newPipelineService wires explicit collaborators, tests inject stubs here.
func newPipelineService(config querycraft.AppConfig, schema SchemaSource, generator pkg.Generator, executor pkg.Executor, audit *AuditService) *PipelineService {
	return &PipelineService{
		logger:    querycraft.Logger,
		config:    config,
		schema:    schema,
		generator: generator,
		executor:  executor,
		extractor: pkg.NewExtractor(config.Pipeline.MinSQLLength),
		audit:     audit,
	}
}

// pipelineRun carries the mutable state of one run across the state machine.
type pipelineRun struct {
	attempt   int
	failedSQL string
	lastError string
	rawText   string
	candidate pkg.ExtractedQuery
}

// AnswerQuestion runs the full pipeline for one natural-language question.
// It never returns an error: every failure mode is folded into the result
// so the caller always gets the same shape back.
func (slf *PipelineService) AnswerQuestion(ctx context.Context, question string) PipelineResult {
	start := time.Now()
	runID := uuid.NewString()
	logger := slf.logger.With().Str("run_id", runID).Logger()
	logger.Info().Str("question", question).Msg("pipeline run started")

	result := PipelineResult{
		Question: question,
		Results:  []map[string]any{},
		Columns:  []string{},
	}
	method := MethodOllama
	if slf.generator == nil {
		method = MethodSimplePattern
	}

	fail := func(message string) PipelineResult {
		result.Success = false
		result.Error = pkg.ToPtr(message)
		logger.Warn().Str("method", method).Str("error", message).Msg("pipeline run failed")
		slf.finish(runID, question, result, method, "failed", message, time.Since(start))
		return result
	}

	snapshot, err := slf.schema.GetSchema(ctx, question)
	if err != nil {
		logger.Error().Err(err).Msg("schema snapshot unavailable")
		return fail("Error fetching database schema")
	}

	run := pipelineRun{}
	state := stateGenerating
	var execution pkg.ExecutionResult

	for state != stateDone && state != stateFailed {
		switch state {
		case stateGenerating:
			// 1. Génération du SQL, par le modèle ou par motifs simples.
			if slf.generator == nil {
				run.rawText = slf.patternGenerate(question, snapshot)
				state = stateExtracting
				continue
			}
			text, genErr := slf.generate(ctx, question, snapshot, &run)
			if genErr != nil {
				logger.Error().Err(genErr).Int("attempt", run.attempt).Msg("generation failed")
				return fail("Error generating SQL query")
			}
			run.rawText = text
			state = stateExtracting

		case stateExtracting:
			// 2. Extraction du SQL depuis la sortie brute du modèle.
			run.candidate = slf.extractor.Extract(run.rawText)
			state = stateValidating

		case stateValidating:
			// 3. Validation lecture seule et cohérence avec le schéma.
			verdict := pkg.Validate(run.candidate, snapshot)
			if !verdict.OK {
				pkg.RecordValidationReject(verdict.Reason)
				logger.Warn().Str("reason", verdict.Reason).Str("detail", verdict.Detail).Msg("statement rejected")
				return fail(validationMessage(verdict))
			}
			// Seul un SQL validé est exposé dans le résultat; un candidat
			// rejeté peut être n'importe quel texte du modèle.
			result.SQLQuery = pkg.ToPtr(run.candidate.SQL)
			state = stateExecuting

		case stateExecuting:
			// 4. Exécution bornée contre la base cible.
			execution, err = slf.executor.Execute(ctx, run.candidate.SQL)
			if err == nil {
				state = stateDone
				continue
			}
			var execErr *pkg.ExecutionError
			if errors.As(err, &execErr) && execErr.Recoverable() &&
				slf.generator != nil && run.attempt < slf.config.Pipeline.RepairMaxAttempts {
				logger.Info().Int("attempt", run.attempt+1).Str("db_error", execErr.Message).Msg("retrying generation with execution feedback")
				run.attempt++
				run.failedSQL = run.candidate.SQL
				run.lastError = execErr.Message
				method = MethodOllamaRepair
				state = stateGenerating
				continue
			}
			logger.Error().Err(err).Msg("execution failed")
			return fail(executionMessage(err))
		}
	}

	result.Success = true
	result.Method = pkg.ToPtr(method)
	result.Results = execution.Rows
	result.RowCount = execution.RowCount
	result.Columns = execution.Columns
	if result.Results == nil {
		result.Results = []map[string]any{}
	}
	if result.Columns == nil {
		result.Columns = []string{}
	}

	logger.Info().Str("method", method).Int("rows", result.RowCount).Dur("took", time.Since(start)).Msg("pipeline run succeeded")
	slf.finish(runID, question, result, method, "success", "", time.Since(start))
	return result
}

func (slf *PipelineService) generate(ctx context.Context, question string, snapshot pkg.SchemaSnapshot, run *pipelineRun) (string, error) {
	var request pkg.GenerationRequest
	if run.attempt == 0 {
		request = pkg.BuildPrompt(question, snapshot, slf.config.Ollama.Temperature, slf.config.Ollama.MaxTokens)
	} else {
		request = pkg.BuildRepairPrompt(question, snapshot, run.failedSQL, run.lastError, slf.config.Ollama.Temperature, slf.config.Ollama.MaxTokens)
	}

	genCtx, cancel := context.WithTimeout(ctx, slf.config.Ollama.Timeout)
	defer cancel()

	resp, err := slf.generator.Generate(genCtx, request)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (slf *PipelineService) finish(runID, question string, result PipelineResult, method, outcome, reason string, took time.Duration) {
	pkg.RecordPipelineRun(method, outcome, took)

	sqlText := ""
	if result.SQLQuery != nil {
		sqlText = pkg.FromPtr(result.SQLQuery)
	}
	slf.audit.Publish(AuditEvent{
		RunID:      runID,
		Question:   question,
		SQL:        sqlText,
		Method:     method,
		Success:    result.Success,
		Reason:     reason,
		DurationMs: took.Milliseconds(),
		At:         time.Now().UTC(),
	})
}

// patternGenerate produces SQL from keyword heuristics when no model is
// configured. It only covers counting and listing over tables it can
// resolve by common names, anything else yields nothing and the run fails
// at validation.
func (slf *PipelineService) patternGenerate(question string, snapshot pkg.SchemaSnapshot) string {
	lowered := strings.ToLower(question)
	counting := strings.Contains(lowered, "how many") || strings.Contains(lowered, "count") || strings.Contains(lowered, "number of")

	resolve := func(names ...string) string {
		for _, name := range names {
			if table, ok := snapshot.Resolve(name); ok {
				return table
			}
		}
		return ""
	}

	type subject struct {
		keywords []string
		table    string
	}
	subjects := []subject{
		{[]string{"order", "purchase", "sale"}, resolve("orders", "order", "sales")},
		{[]string{"product", "item"}, resolve("products", "product", "items")},
		{[]string{"customer", "user", "client"}, resolve("customers", "customer", "users", "user")},
	}

	for _, s := range subjects {
		if s.table == "" {
			continue
		}
		for _, keyword := range s.keywords {
			if !strings.Contains(lowered, keyword) {
				continue
			}
			if counting {
				return fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
			}
			return fmt.Sprintf("SELECT * FROM %s LIMIT 10", s.table)
		}
	}

	// Question sans sujet reconnu: on tente la première table du schéma.
	if names := snapshot.TableNames(); len(names) > 0 && counting {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s", names[0])
	}
	return ""
}

func validationMessage(verdict pkg.ValidationVerdict) string {
	switch verdict.Reason {
	case pkg.ReasonNoSQLFound:
		return "No SQL statement found in the generated output (no_sql_found)"
	case pkg.ReasonMultipleStatements:
		return "Generated output contains multiple statements (multiple_statements)"
	case pkg.ReasonNotReadOnly:
		return "Generated statement is not read-only (not_read_only)"
	case pkg.ReasonUnknownTable:
		return fmt.Sprintf("Generated statement references an unknown table %q (unknown_table)", verdict.Detail)
	default:
		return "Generated statement was rejected"
	}
}

func executionMessage(err error) string {
	var execErr *pkg.ExecutionError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case pkg.ExecErrorTimeout:
			return "Query execution timed out"
		case pkg.ExecErrorConnection:
			return "Database connection error during execution"
		default:
			return fmt.Sprintf("Query execution failed: %s", execErr.Message)
		}
	}
	return "Query execution failed"
}
