package chat

import "strings"

const ragPromptHeader = `You are an assistant helping users understand and work with their project documents. You have access to a knowledge base built from the user's uploaded documents, which have been chunked and embedded for semantic search.

KEY INSTRUCTIONS:
- Answer questions based only on the provided document material
- If the provided context doesn't contain enough information to answer the question, say so clearly
- Always reference specific documents by filename when relevant
- If no relevant documents are found, respond with "I don't have information about that in the current project documents."
- Format your response in markdown
- Be concise but comprehensive

When referencing documents, use this format: **[Filename]**`

const ragPromptFooter = `Remember: only use information from the provided document material. Do not make assumptions or provide information not contained in the context.`

// ragSystemPrompt builds the system instructions for a retrieval-augmented
// query. Project instructions, when present, take precedence over the
// generic guidance.
func ragSystemPrompt(instructions, renderedContext string) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString("PROJECT INSTRUCTIONS:\n")
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	b.WriteString(ragPromptHeader)
	b.WriteString("\n\nDOCUMENT CONTEXT:\n")
	b.WriteString(renderedContext)
	b.WriteString("\n\n")
	b.WriteString(ragPromptFooter)
	return b.String()
}

// plainSystemPrompt builds the system instructions for a chat without
// retrieval.
func plainSystemPrompt(instructions string) string {
	base := "You are a helpful assistant. Format your response in markdown."
	if instructions == "" {
		return base
	}
	return "PROJECT INSTRUCTIONS:\n" + instructions + "\n\n" + base
}
