package llm

import "context"

type Provider interface {
	// Answer returns the full generated answer for one prompt.
	Answer(ctx context.Context, system, prompt string) (string, error)
	Close() error
}
