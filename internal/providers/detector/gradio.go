package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/trinera/agrolive/internal/utils"
)

// GradioSpace calls a pest-classification model hosted as a Gradio Space.
// The space is a cold shared resource: first calls after idle can take tens
// of seconds, so no client-side timeout is set here. The caller's context
// bounds the call.
type GradioSpace struct {
	BaseURL string // e.g. https://org-pest-detector.hf.space
	Token   string

	client *http.Client
}

func NewGradioSpace(baseURL, token string) (*GradioSpace, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, utils.E(utils.CodeInvalidArgument, "detector.NewGradioSpace", "base URL is required", nil)
	}
	return &GradioSpace{
		BaseURL: baseURL,
		Token:   token,
		client:  &http.Client{},
	}, nil
}

func (g *GradioSpace) Close() error { return nil }

type gradioRequest struct {
	Data []any `json:"data"`
}

type gradioResponse struct {
	Data []struct {
		Label       string `json:"label"`
		Confidences []struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
		} `json:"confidences"`
	} `json:"data"`
}

func (g *GradioSpace) Classify(ctx context.Context, image []byte) (Result, error) {
	const op = "detector.GradioSpace.Classify"

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	body, err := json.Marshal(gradioRequest{Data: []any{dataURL}})
	if err != nil {
		return Result{}, utils.E(utils.CodeInternal, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/run/predict", bytes.NewReader(body))
	if err != nil {
		return Result{}, utils.E(utils.CodeInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, utils.E(utils.CodeTimeout, op, "classification timed out", ctx.Err())
		}
		return Result{}, utils.E(utils.CodeUnavailable, op, "classification call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, utils.E(utils.CodeUnavailable, op,
			fmt.Sprintf("space returned %d: %s", resp.StatusCode, string(snippet)), nil)
	}

	var out gradioResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, utils.E(utils.CodeInternal, op, "decode prediction", err)
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].Label) == "" {
		return Result{}, utils.E(utils.CodeInternal, op, "prediction returned no label", nil)
	}

	res := Result{Label: strings.TrimSpace(out.Data[0].Label)}
	for _, c := range out.Data[0].Confidences {
		if strings.EqualFold(c.Label, res.Label) && c.Confidence > res.Confidence {
			res.Confidence = c.Confidence
		}
	}
	if res.Confidence == 0 && len(out.Data[0].Confidences) > 0 {
		res.Confidence = out.Data[0].Confidences[0].Confidence
	}
	return res, nil
}
