package pkg

import (
	"regexp"
	"strings"
)

// ExtractionTag marks how confident extraction is in its result.
type ExtractionTag string

const (
	// TagMatched: a statement-opening keyword was found and captured.
	TagMatched ExtractionTag = "matched"
	// TagFallbackRaw: no clear statement found; the trimmed raw text is
	// offered as a last resort and will be rejected by the validator.
	TagFallbackRaw ExtractionTag = "fallback_raw"
)

// ExtractedQuery is a single cleaned candidate statement. It never carries a
// trailing terminator.
type ExtractedQuery struct {
	SQL string
	Tag ExtractionTag
}

// DefaultMinSQLLength is the minimum sane length below which a capture is
// treated as noise rather than a statement.
const DefaultMinSQLLength = 5

var (
	// Premier bloc de code, avec tag de langage optionnel sur la ligne d'ouverture.
	fencedBlockRe = regexp.MustCompile("(?si)```[ \t]*(?:sql)?[ \t]*\r?\n?(.*?)```")
	sqlKeywordRe  = regexp.MustCompile(`(?i)\b(select|with|insert|update|delete)\b`)
)

// Extractor pulls a single candidate SQL statement out of free-form model
// output. It never fails: when its heuristics find nothing it returns the
// trimmed raw text tagged FallbackRaw, so that validation, not extraction,
// stays the authoritative safety gate.
type Extractor struct {
	MinLength int
}

func NewExtractor(minLength int) *Extractor {
	if minLength <= 0 {
		minLength = DefaultMinSQLLength
	}
	return &Extractor{MinLength: minLength}
}

// Extract runs the single-pass heuristic: fenced block first, then the first
// statement-opening keyword up to the first terminator or end of text.
func (slf *Extractor) Extract(raw string) ExtractedQuery {
	content := raw

	if strings.Contains(raw, "```") {
		if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
			content = m[1]
		} else {
			// Délimitation ambiguë: découpage naïf sur la barrière.
			parts := strings.Split(raw, "```")
			if len(parts) > 1 {
				content = parts[1]
				content = strings.TrimPrefix(content, "sql")
				content = strings.TrimPrefix(content, "SQL")
			}
		}
	}

	captured := ""
	if loc := sqlKeywordRe.FindStringIndex(content); loc != nil {
		captured = content[loc[0]:]
		if idx := strings.Index(captured, ";"); idx >= 0 {
			captured = captured[:idx]
		}
	}

	captured = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(captured), ";"))

	if len(captured) < slf.MinLength {
		return ExtractedQuery{SQL: strings.TrimSpace(raw), Tag: TagFallbackRaw}
	}

	return ExtractedQuery{SQL: captured, Tag: TagMatched}
}
