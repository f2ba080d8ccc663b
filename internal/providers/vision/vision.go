package vision

import (
	"context"

	"github.com/trinera/agrolive/internal/models"
)

// Provider runs the cheap always-on pass over captured frames.
type Provider interface {
	QuickAnalyze(ctx context.Context, image []byte) (models.FrameObservation, error)
	Close() error
}
