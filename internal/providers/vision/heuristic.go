package vision

import (
	"bytes"
	"fmt"
	"image"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/trinera/agrolive/internal/models"
)

// Heuristic is the degraded Stage A path used when the inference API is
// unreachable: a header-only decode plus size sanity check. It assumes the
// frame is relevant so a pest query can still escalate.
func Heuristic(img []byte) models.FrameObservation {
	obs := models.FrameObservation{
		CapturedAt: time.Now().UTC(),
		Raw:        img,
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		obs.Description = "Unable to analyze image"
		return obs
	}

	obs.Relevant = true
	obs.Confidence = 0.5
	obs.Description = fmt.Sprintf("Image captured (%dx%d)", cfg.Width, cfg.Height)
	return obs
}
