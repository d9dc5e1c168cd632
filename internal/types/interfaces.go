package types

import "context"

// LLMClient defines the interface for LLM interactions. The translator and
// the summarizer are its only consumers; both treat the response as
// untrusted free text.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
