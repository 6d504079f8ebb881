package rag

import (
	"fmt"
	"strings"

	"pdf-rag/internal/models"
)

// AssemblePrompt fills the answer template with the retrieved chunk texts,
// joined in retrieval order, and the question. With no chunks the context
// block is empty.
func AssemblePrompt(question string, chunks models.RetrievalResult) string {
	texts := make([]string, len(chunks))
	for i, sc := range chunks {
		texts[i] = sc.Chunk.Text
	}
	return fmt.Sprintf(models.AnswerPromptTemplate, strings.Join(texts, models.ContextSeparator), question)
}
