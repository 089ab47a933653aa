package models

const (
	// NoContextAnswer is returned when retrieval finds nothing relevant.
	// Generation is skipped entirely in that case.
	NoContextAnswer = "I couldn't find relevant information in the documents to answer your question."

	// FallbackPreamble prefixes the extractive answer used when the
	// generation service is unavailable.
	FallbackPreamble = "Based on the available documents, here is the most relevant excerpt:\n\n"

	// PassageSeparator joins labeled passages inside the grounded prompt.
	PassageSeparator = "\n\n"
)

var (
	GroundedPromptTemplate = `You are a helpful assistant that answers questions based on the provided context.

Context:
%s

Question: %s

Answer the question based solely on the context provided above. If the context doesn't contain enough information to answer the question, say so. Be concise and accurate.

Answer:`
)
