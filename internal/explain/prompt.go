package explain

import (
	"fmt"
	"strings"

	"github.com/pyqdeck/pyqdeck/internal/api"
)

const systemPrompt = `You are a patient university tutor helping an engineering student revise previous year exam questions.
Explain how to answer the question the way a strong student would write it in the exam.
Keep steps short and concrete. Use plain text; write formulas inline.
Respond only with the requested JSON object.`

func buildPrompt(q api.Question) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(strings.TrimSpace(q.Text))
	b.WriteString("\n")

	var meta []string
	if q.Marks > 0 {
		meta = append(meta, fmt.Sprintf("marks: %d", q.Marks))
	}
	if q.Year > 0 {
		meta = append(meta, fmt.Sprintf("year: %d", q.Year))
	}
	if q.Module != "" {
		meta = append(meta, "module: "+q.Module)
	}
	if q.Type != "" {
		meta = append(meta, "type: "+q.Type)
	}
	if len(meta) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(meta, ", "))
		b.WriteString("\n")
	}
	if q.Answer != "" {
		b.WriteString("\nReference answer (may be terse):\n")
		b.WriteString(strings.TrimSpace(q.Answer))
		b.WriteString("\n")
	}
	if q.Marks >= 10 {
		b.WriteString("\nThis is a long-answer question; cover every part.\n")
	}
	return b.String()
}
