package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/sdsx/internal/sections"
)

// NoData is the value the model is told to use for facts missing from the
// context.
const NoData = "No Data"

const systemPromptTemplate = `You will receive selected chunks from the safety data sheet (SDS) of a material. Find the requested information based solely on the provided context.

Rules:
- For material information, use only the given context.
- For chemical-level toxicity, if the document has no information about a chemical, answer from general knowledge and set source to OPENAI; otherwise set source to MSDS.
- If the context does not contain a requested value, use "%s".
- Your output must be ONLY a single valid JSON object that conforms to the schema below. Do not include any other text, prose, or markdown.

Schema:
%s`

// SystemPrompt returns the system message for an extraction under schema.
func SystemPrompt(schema *sections.Schema) (string, error) {
	b, err := json.MarshalIndent(schema.JSONSchema(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering schema: %w", err)
	}
	return fmt.Sprintf(systemPromptTemplate, NoData, b), nil
}

// HumanPrompt returns the user message: numbered context chunks followed by
// the query. No chunks renders as an explicit empty context.
func HumanPrompt(chunks []string, instruction string) string {
	var sb strings.Builder
	sb.WriteString("context:\n")
	if len(chunks) == 0 {
		sb.WriteString("(no matching content in the document)\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, strings.TrimSpace(c))
	}
	fmt.Fprintf(&sb, "query: %s", instruction)
	return sb.String()
}
