package answer

import (
	"strings"
)

const groundedTemplate = `You are a helpful assistant answering questions from a knowledge base.
Use only the context below. Cite sources as [Source N]. If the context does not contain the answer, say so plainly.

Context:
{{context}}
{{history}}
Question: {{question}}

Answer:`

const directTemplate = `You are a helpful assistant. Answer the question directly and concisely.
{{history}}
Question: {{question}}

Answer:`

// BuildPrompt builds the generation prompt. With an empty context the prompt
// asks for a direct answer without grounding. History, when present, is the
// prior conversation rendered as plain text.
func BuildPrompt(question, context, history string) string {
	tmpl := groundedTemplate
	if strings.TrimSpace(context) == "" {
		tmpl = directTemplate
	}

	h := ""
	if strings.TrimSpace(history) != "" {
		h = "\nConversation so far:\n" + strings.TrimSpace(history) + "\n"
	}

	r := strings.NewReplacer(
		"{{context}}", strings.TrimSpace(context),
		"{{history}}", h,
		"{{question}}", strings.TrimSpace(question),
	)
	return r.Replace(tmpl)
}
