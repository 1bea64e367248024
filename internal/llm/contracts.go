package llm

import (
	"context"

	"github.com/joseph-ayodele/paper-translate/internal/common"
)

// Request is one text to translate with one model.
type Request struct {
	Text     string
	Model    string
	Glossary []common.GlossaryEntry // ordered; earlier entries win on overlap
}

// Translator is the interface the translation service depends on. A failed
// call returns an *APIError whose Classification tells the caller whether to
// give up, try another model, or treat it as exhausted retries.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}
