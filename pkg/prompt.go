package pkg

import (
	"fmt"
	"strings"
)

// GenerationRequest carries everything one generation call needs. It is
// created once per run and owned by that run.
type GenerationRequest struct {
	Question    string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// BuildPrompt renders the generation request for a question against a schema
// snapshot. Deterministic: identical inputs always produce identical prompts.
func BuildPrompt(question string, snapshot SchemaSnapshot, temperature float64, maxTokens int) GenerationRequest {
	prompt := fmt.Sprintf(`You are a SQL expert. Convert the following question to a single SQL query.

Database schema:
%s
Rules:
- Output ONLY the SQL query, without additional explanations.
- Use only SELECT or WITH (CTE) statements, never INSERT, UPDATE, DELETE, DROP or any other modifying statement.
- Use exact table and column names from the schema above. When a term above is noted as referring to a table, use that table.

Question: %s`, SnapshotToPromptFormat(snapshot), question)

	return GenerationRequest{
		Question:    question,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// BuildRepairPrompt renders the follow-up request used by the bounded
// self-repair loop: same schema and rules, plus the statement the database
// rejected and its error, asking for a corrected query.
func BuildRepairPrompt(question string, snapshot SchemaSnapshot, failedSQL string, dbError string, temperature float64, maxTokens int) GenerationRequest {
	base := BuildPrompt(question, snapshot, temperature, maxTokens)

	var b strings.Builder
	b.WriteString(base.Prompt)
	fmt.Fprintf(&b, "\n\nThe previous attempt failed. Query:\n%s\n\nDatabase error:\n%s\n\nReturn a corrected SQL query.", failedSQL, dbError)

	base.Prompt = b.String()
	return base
}
