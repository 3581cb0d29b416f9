package pkg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExecutionErrorKind separates failures an operator can retry from failures
// that indicate the statement itself is wrong.
type ExecutionErrorKind string

const (
	// ExecErrorQuery: the database rejected the statement (syntax, unknown
	// column, type mismatch). Recoverable in principle; suitable input for
	// the self-repair loop.
	ExecErrorQuery ExecutionErrorKind = "query"
	// ExecErrorConnection: connectivity lost before or during the query.
	// Fatal for this run.
	ExecErrorConnection ExecutionErrorKind = "connection"
	// ExecErrorTimeout: the statement timeout elapsed.
	ExecErrorTimeout ExecutionErrorKind = "timeout"
)

// ExecutionError is the tagged error returned by Execute.
type ExecutionError struct {
	Kind    ExecutionErrorKind
	Message string
}

func (slf *ExecutionError) Error() string {
	return slf.Message
}

// Recoverable reports whether re-generating the statement could help.
func (slf *ExecutionError) Recoverable() bool {
	return slf.Kind == ExecErrorQuery
}

// ExecutionResult carries ordered column names and rows in the database's
// native order.
type ExecutionResult struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int
}

// Executor runs a single already-validated read-only statement under a
// statement timeout. It does not re-check the safety policy; the orchestrator
// guarantees only ok-verdict statements reach it.
type Executor interface {
	Execute(ctx context.Context, sqlText string) (ExecutionResult, error)
}

// PostgresExecutor executes against a pgx pool. Connections are checked out
// per execution and released on every exit path.
type PostgresExecutor struct {
	Pool    *pgxpool.Pool
	Timeout time.Duration
}

func NewPostgresExecutor(pool *pgxpool.Pool, timeout time.Duration) *PostgresExecutor {
	return &PostgresExecutor{Pool: pool, Timeout: timeout}
}

func (slf *PostgresExecutor) Execute(ctx context.Context, sqlText string) (ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, slf.Timeout)
	defer cancel()

	rows, err := slf.Pool.Query(ctx, sqlText)
	if err != nil {
		return ExecutionResult{}, classifyPostgresError(ctx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = string(field.Name)
	}

	result := ExecutionResult{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return ExecutionResult{}, classifyPostgresError(ctx, err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ExecutionResult{}, classifyPostgresError(ctx, err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func classifyPostgresError(ctx context.Context, err error) *ExecutionError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &ExecutionError{Kind: ExecErrorQuery, Message: pgErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Kind: ExecErrorTimeout, Message: "query timed out"}
	}
	return &ExecutionError{Kind: ExecErrorConnection, Message: err.Error()}
}

// SQLExecutor executes through database/sql; used for the SQL Server target.
type SQLExecutor struct {
	DB      *sql.DB
	Timeout time.Duration
}

func NewSQLExecutor(db *sql.DB, timeout time.Duration) *SQLExecutor {
	return &SQLExecutor{DB: db, Timeout: timeout}
}

func (slf *SQLExecutor) Execute(ctx context.Context, sqlText string) (ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, slf.Timeout)
	defer cancel()

	rows, err := slf.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return ExecutionResult{}, classifySQLError(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ExecutionResult{}, classifySQLError(ctx, err)
	}

	result := ExecutionResult{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ExecutionResult{}, classifySQLError(ctx, err)
		}

		row := make(map[string]any, len(columns))
		for i, column := range columns {
			// database/sql renvoie les chaînes en []byte
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ExecutionResult{}, classifySQLError(ctx, err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func classifySQLError(ctx context.Context, err error) *ExecutionError {
	var srvErr mssql.Error
	if errors.As(err, &srvErr) {
		return &ExecutionError{Kind: ExecErrorQuery, Message: srvErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Kind: ExecErrorTimeout, Message: "query timed out"}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return &ExecutionError{Kind: ExecErrorConnection, Message: err.Error()}
	}
	return &ExecutionError{Kind: ExecErrorQuery, Message: err.Error()}
}
