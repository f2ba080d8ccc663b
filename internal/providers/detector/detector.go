package detector

import (
	"context"
)

// Result is the raw outcome of one heavy classification call.
type Result struct {
	Label      string
	Confidence float64
}

// Provider is the expensive pest classifier. Calls may take several
// seconds; the dispatcher owns the timeout.
type Provider interface {
	Classify(ctx context.Context, image []byte) (Result, error)
	Close() error
}
