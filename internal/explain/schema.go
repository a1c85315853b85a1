package explain

import "github.com/pyqdeck/pyqdeck/internal/llm"

// Schema is the structured output requested from the model.
var Schema = &llm.Schema{
	Name:        "pyq-explanation",
	Description: "Step-by-step explanation of a university exam question",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "What the question asks and the approach to take (2-3 sentences)",
			},
			"steps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Ordered solution steps, one idea per step",
			},
			"key_concepts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "2-5 concepts a student must know to answer it",
			},
		},
		"required":             []any{"summary", "steps", "key_concepts"},
		"additionalProperties": false,
	},
}
