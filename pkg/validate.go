package pkg

import (
	"regexp"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// StatementKind is the normalized classification of a validated statement.
type StatementKind string

const (
	StatementSelect        StatementKind = "select"
	StatementSelectWithCte StatementKind = "select_with_cte"
	StatementRejected      StatementKind = "rejected"
)

// Verdict reason codes.
const (
	ReasonNoSQLFound         = "no_sql_found"
	ReasonMultipleStatements = "multiple_statements"
	ReasonNotReadOnly        = "not_read_only"
	ReasonUnknownTable       = "unknown_table"
)

// ValidationVerdict is the immutable outcome of validating one candidate.
// A statement whose verdict is not OK must never reach the executor.
type ValidationVerdict struct {
	OK     bool
	Kind   StatementKind
	Reason string
	Detail string
}

var (
	destructiveRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant)\b`)
	tableRefRe    = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_$.]*)`)
	cteNameRe     = regexp.MustCompile(`(?i)(?:\bwith\s+|,\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s+as\s*\(`)
)

// Validate applies the read-only safety policy and the schema-consistency
// check to a candidate. All checks must pass; the first failure decides the
// reason. Destructive keywords are rejected anywhere in the text, not only at
// the start, as defense in depth against keyword smuggling.
func Validate(candidate ExtractedQuery, snapshot SchemaSnapshot) ValidationVerdict {
	if candidate.Tag == TagFallbackRaw {
		return rejected(ReasonNoSQLFound, "extraction found no SQL statement")
	}

	sqlText := strings.TrimSpace(candidate.SQL)
	if sqlText == "" {
		return rejected(ReasonNoSQLFound, "empty statement")
	}

	// L'extracteur a déjà retiré le terminateur final: tout ';' restant
	// sépare forcément plusieurs instructions.
	if strings.Contains(sqlText, ";") {
		return rejected(ReasonMultipleStatements, "statement contains a terminator followed by more input")
	}

	if m := destructiveRe.FindString(sqlText); m != "" {
		return rejected(ReasonNotReadOnly, "destructive keyword: "+strings.ToUpper(m))
	}

	words := topLevelTokens(sqlText)
	if len(words) == 0 {
		return rejected(ReasonNoSQLFound, "no statement tokens")
	}

	var kind StatementKind
	switch words[0] {
	case "select":
		kind = StatementSelect
	case "with":
		if !cteTerminalIsSelect(words) {
			return rejected(ReasonNotReadOnly, "CTE chain does not terminate in SELECT")
		}
		kind = StatementSelectWithCte
	default:
		return rejected(ReasonNotReadOnly, "statement does not begin with SELECT or WITH")
	}

	if stackedStatement(words, kind == StatementSelectWithCte) {
		return rejected(ReasonMultipleStatements, "second statement-opening keyword found")
	}

	for _, table := range referencedTables(sqlText) {
		if _, ok := snapshot.Resolve(table); !ok {
			return ValidationVerdict{
				OK:     false,
				Kind:   StatementRejected,
				Reason: ReasonUnknownTable,
				Detail: table,
			}
		}
	}

	return ValidationVerdict{OK: true, Kind: kind}
}

func rejected(reason, detail string) ValidationVerdict {
	return ValidationVerdict{OK: false, Kind: StatementRejected, Reason: reason, Detail: detail}
}

// topLevelTokens returns the lowercased word tokens of the statement at
// parenthesis depth zero, plus "(", ")" and "," marker tokens at that depth.
// Quoted strings are skipped entirely.
func topLevelTokens(sqlText string) []string {
	var tokens []string
	var current strings.Builder
	depth := 0
	inSingle := false
	inDouble := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, r := range sqlText {
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			}
		case r == '\'':
			flush()
			inSingle = true
		case r == '"':
			flush()
			inDouble = true
		case r == '(':
			if depth == 0 {
				flush()
				tokens = append(tokens, "(")
			}
			depth++
		case r == ')':
			depth--
			if depth == 0 {
				flush()
				tokens = append(tokens, ")")
			}
		case depth > 0:
			// contenu imbriqué, invisible au niveau zéro
		case r == ',':
			flush()
			tokens = append(tokens, ",")
		case r == '_' || r == '$' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// cteTerminalIsSelect checks that the first statement keyword visible at
// depth zero after the WITH chain is SELECT. CTE bodies live inside
// parentheses and are not visible here.
func cteTerminalIsSelect(words []string) bool {
	for _, w := range words[1:] {
		switch w {
		case "select":
			return true
		case "insert", "update", "delete":
			return false
		}
	}
	return false
}

// stackedStatement detects a second statement-opening keyword at depth zero
// that is not part of a set operation or of the CTE chain. Defends against
// semicolon-free concatenation.
func stackedStatement(words []string, isCte bool) bool {
	seenOpener := false
	for i, w := range words {
		switch w {
		case "select", "with", "insert", "update", "delete":
			if i == 0 {
				seenOpener = !isCte // the WITH itself is not the SELECT yet
				continue
			}
			prev := words[i-1]
			allowed := prev == "union" || prev == "all" || prev == "except" || prev == "intersect" || prev == "(" || prev == ","
			if isCte && !seenOpener && (prev == ")" || prev == "(") {
				// clause terminale de la chaîne CTE
				seenOpener = true
				continue
			}
			if !allowed {
				return true
			}
			seenOpener = true
		}
	}
	return false
}

// referencedTables lists the identifiers used as table references. The parser
// path covers plain SELECTs; statements the parser cannot handle (CTEs) fall
// back to a FROM/JOIN scan with declared CTE names excluded.
func referencedTables(sqlText string) []string {
	if stmt, err := sqlparser.Parse(sqlText); err == nil {
		var tables []string
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if aliased, ok := node.(*sqlparser.AliasedTableExpr); ok {
				if tn, ok := aliased.Expr.(sqlparser.TableName); ok {
					if name := tn.Name.String(); name != "" {
						tables = append(tables, name)
					}
				}
			}
			return true, nil
		}, stmt)
		return dedupeTables(tables, nil)
	}

	cteNames := make(map[string]bool)
	for _, m := range cteNameRe.FindAllStringSubmatch(sqlText, -1) {
		cteNames[strings.ToLower(m[1])] = true
	}

	var tables []string
	for _, m := range tableRefRe.FindAllStringSubmatch(sqlText, -1) {
		tables = append(tables, m[1])
	}
	return dedupeTables(tables, cteNames)
}

func dedupeTables(tables []string, exclude map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, table := range tables {
		// déqualifie "schema.table"
		if idx := strings.LastIndex(table, "."); idx >= 0 {
			table = table[idx+1:]
		}
		key := strings.ToLower(table)
		if seen[key] || exclude[key] {
			continue
		}
		seen[key] = true
		out = append(out, table)
	}
	return out
}
