package pkg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ColumnSchema describes one column of a queryable table.
type ColumnSchema struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// TableSchema describes one queryable table, columns in ordinal order.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// SchemaSnapshot is an immutable point-in-time capture of the target schema,
// plus the logical-synonym table used by both the prompt and the validator.
// It must not be mutated once handed to a pipeline run.
type SchemaSnapshot struct {
	Tables []TableSchema `json:"tables"`
	// Synonyms mappe un alias (minuscule) vers le nom de table canonique.
	Synonyms map[string]string `json:"synonyms"`
}

// HasTable reports whether name is a canonical table of the snapshot.
func (slf SchemaSnapshot) HasTable(name string) bool {
	for _, table := range slf.Tables {
		if strings.EqualFold(table.Name, name) {
			return true
		}
	}
	return false
}

// Resolve maps an identifier to a canonical table name, directly or through
// a logical synonym. Resolution is case-insensitive.
func (slf SchemaSnapshot) Resolve(name string) (string, bool) {
	for _, table := range slf.Tables {
		if strings.EqualFold(table.Name, name) {
			return table.Name, true
		}
	}
	if canonical, ok := slf.Synonyms[strings.ToLower(name)]; ok {
		if slf.HasTable(canonical) {
			return canonical, true
		}
	}
	return "", false
}

// TableNames returns the canonical table names in snapshot order.
func (slf SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(slf.Tables))
	for _, table := range slf.Tables {
		names = append(names, table.Name)
	}
	return names
}

// FindPostgresSchema reads table and column metadata from information_schema,
// ordered by table name then ordinal position.
func FindPostgresSchema(ctx context.Context, pool *pgxpool.Pool) ([]TableSchema, error) {
	query := `
        SELECT isc.table_name, isc.column_name, isc.data_type
        FROM information_schema.columns isc
        JOIN information_schema.tables ist
            ON isc.table_schema = ist.table_schema
            AND isc.table_name = ist.table_name
        WHERE isc.table_schema = 'public'
          AND ist.table_type = 'BASE TABLE'
        ORDER BY isc.table_name, isc.ordinal_position
    `

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var tables []TableSchema
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		tables = appendColumn(tables, tableName, columnName, dataType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tables, nil
}

// FindSQLServerSchema reads table and column metadata from the sys catalog.
func FindSQLServerSchema(ctx context.Context, db *sql.DB) ([]TableSchema, error) {
	query := `
        SELECT t.name AS table_name, c.name AS column_name, ty.name AS data_type
        FROM sys.tables t
        INNER JOIN sys.columns c ON t.object_id = c.object_id
        INNER JOIN sys.types ty ON c.user_type_id = ty.user_type_id
        WHERE t.is_ms_shipped = 0
        ORDER BY t.name, c.column_id
    `

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var tables []TableSchema
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		tables = appendColumn(tables, tableName, columnName, dataType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tables, nil
}

func appendColumn(tables []TableSchema, tableName, columnName, dataType string) []TableSchema {
	if n := len(tables); n > 0 && tables[n-1].Name == tableName {
		tables[n-1].Columns = append(tables[n-1].Columns, ColumnSchema{Name: columnName, DataType: dataType})
		return tables
	}
	return append(tables, TableSchema{
		Name:    tableName,
		Columns: []ColumnSchema{{Name: columnName, DataType: dataType}},
	})
}

// DeriveSynonyms builds the logical-synonym table for a set of tables.
// App-prefixed names like "querycraft_customer" get "customer" and "customers"
// aliases; extra operator-supplied pairs override the derived ones.
// Column/table names alone are not enough for the model to map colloquial
// nouns onto real identifiers, hence the explicit table.
func DeriveSynonyms(tables []TableSchema, extra map[string]string) map[string]string {
	synonyms := make(map[string]string)
	for _, table := range tables {
		idx := strings.Index(table.Name, "_")
		if idx <= 0 || idx == len(table.Name)-1 {
			continue
		}
		base := strings.ToLower(table.Name[idx+1:])
		synonyms[base] = table.Name
		if !strings.HasSuffix(base, "s") {
			synonyms[base+"s"] = table.Name
		}
	}
	for alias, table := range extra {
		synonyms[strings.ToLower(alias)] = table
	}
	return synonyms
}

// SnapshotToPromptFormat renders the snapshot the way the generation prompt
// consumes it: one block per table with typed columns, then one line per
// synonym stating which real table it refers to.
func SnapshotToPromptFormat(snapshot SchemaSnapshot) string {
	var b strings.Builder
	for _, table := range snapshot.Tables {
		fmt.Fprintf(&b, "%s table:\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "- %s (%s)\n", column.Name, column.DataType)
		}
		b.WriteString("\n")
	}

	if len(snapshot.Synonyms) > 0 {
		aliases := make([]string, 0, len(snapshot.Synonyms))
		for alias := range snapshot.Synonyms {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			fmt.Fprintf(&b, "\"%s\" refers to table %s\n", alias, snapshot.Synonyms[alias])
		}
	}

	return b.String()
}
