package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trinera/agrolive/internal/models"
	"github.com/trinera/agrolive/internal/utils"
)

// labels that suggest the frame is worth escalating over
var relevantLabels = []string{
	"plant", "leaf", "flower", "insect", "bug",
	"beetle", "caterpillar", "aphid", "crop",
	"tree", "grass", "vegetation", "agriculture",
	"corn", "wheat", "rice", "potato", "tomato",
}

// HuggingFace classifies frames with a small image-classification model on
// the hosted inference API. Failures never propagate to the caller's
// pipeline; callers fall back to Heuristic.
type HuggingFace struct {
	APIURL string
	Token  string

	client *http.Client
}

func NewHuggingFace(model, token string) *HuggingFace {
	if model == "" {
		model = "google/vit-base-patch16-224"
	}
	return &HuggingFace{
		APIURL: "https://api-inference.huggingface.co/models/" + model,
		Token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HuggingFace) Close() error { return nil }

func (h *HuggingFace) QuickAnalyze(ctx context.Context, image []byte) (models.FrameObservation, error) {
	const op = "vision.HuggingFace.QuickAnalyze"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.APIURL, bytes.NewReader(image))
	if err != nil {
		return models.FrameObservation{}, utils.E(utils.CodeInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return models.FrameObservation{}, utils.E(utils.CodeUnavailable, op, "inference call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.FrameObservation{}, utils.E(utils.CodeUnavailable, op,
			fmt.Sprintf("inference API returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var results []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return models.FrameObservation{}, utils.E(utils.CodeInternal, op, "decode inference result", err)
	}

	obs := models.FrameObservation{CapturedAt: time.Now().UTC(), Raw: image}
	for _, r := range results {
		label := strings.ToLower(strings.TrimSpace(r.Label))
		if label == "" || r.Score <= 0.1 {
			continue
		}
		obs.Labels = append(obs.Labels, label)
		if r.Score > obs.Confidence {
			obs.Confidence = r.Score
		}
		if !obs.Relevant && labelRelevant(label) {
			obs.Relevant = true
		}
	}

	switch {
	case obs.Relevant:
		n := len(obs.Labels)
		if n > 3 {
			n = 3
		}
		obs.Description = "Detected: " + strings.Join(obs.Labels[:n], ", ")
	case len(obs.Labels) > 0:
		obs.Description = "Scene detected: " + obs.Labels[0]
	default:
		obs.Description = "No relevant agricultural objects detected"
	}

	return obs, nil
}

func labelRelevant(label string) bool {
	for _, rel := range relevantLabels {
		if strings.Contains(label, rel) {
			return true
		}
	}
	return false
}
