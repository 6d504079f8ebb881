package models

const (
	ContextSeparator = "\n\n"
	DontKnowAnswer   = "I don't know"
)

var (
	// AnswerPromptTemplate takes the context block and the question.
	AnswerPromptTemplate = `Use the following context to answer the question. Answer only from the context. If the context does not contain the answer, say "` + DontKnowAnswer + `" and do not use any outside knowledge.

Context:
%s

Question: %s

Answer:`
)
