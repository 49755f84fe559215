package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kanaz606/auto-geo/internal/prompts"
)

// PromptSchema describes the JSON object a prompt asks the model to return.
type PromptSchema struct {
	Name        string
	Description string // system preamble describing the task
	Fields      []SchemaField
}

// SchemaField defines a single field in the expected output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // type hint shown to the model
	Description string
	Required    bool
}

// BuildPrompt constructs the model prompt from a schema and the task input.
func BuildPrompt(schema PromptSchema, input string) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = `"string"`
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		fmt.Fprintf(&sb, "  \"%s\": %s%s", field.Name, typeHint, requiredHint)
		if field.Description != "" {
			fmt.Fprintf(&sb, " // %s", field.Description)
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Write in the same language as the input.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	sb.WriteString("Input:\n\"\"\"\n")
	sb.WriteString(input)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// ArticleSchema asks for a search-optimized article for one platform.
func ArticleSchema(platform string, wordCount int, requirements string) PromptSchema {
	description := prompts.Render(prompts.MustGet(prompts.Gateway, "article"), map[string]string{
		"Platform":  platform,
		"WordCount": strconv.Itoa(wordCount),
	})
	if requirements != "" {
		description += "\n" + prompts.Render(prompts.MustGet(prompts.Gateway, "article-requirements"),
			map[string]string{"Requirements": requirements})
	}
	return PromptSchema{
		Name:        "Article",
		Description: description,
		Fields: []SchemaField{
			{Name: "title", Description: "Article title", Required: true},
			{Name: "content", Description: "Full article body in markdown", Required: true},
		},
	}
}

// IndexAnalysisSchema asks for an assessment of index-check results.
func IndexAnalysisSchema() PromptSchema {
	return PromptSchema{
		Name:        "IndexAnalysis",
		Description: prompts.MustGet(prompts.Gateway, "index-analysis"),
		Fields: []SchemaField{
			{Name: "summary", Description: "One-paragraph assessment", Required: true},
			{Name: "recommendations", Type: `["string"]`, Description: "Concrete next steps", Required: false},
		},
	}
}
