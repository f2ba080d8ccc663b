package models

import "time"

// Severity tiers derived from classifier confidence.
type Severity string

const (
	SeverityHigh    Severity = "High"
	SeverityMedium  Severity = "Medium"
	SeverityLow     Severity = "Low"
	SeverityUnknown Severity = "Unknown"
)

// SeverityFor maps a classifier confidence to a tier.
func SeverityFor(confidence float64) Severity {
	switch {
	case confidence > 0.8:
		return SeverityHigh
	case confidence > 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// FailureKind explains why a classification attempt did not complete.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureUnavailable FailureKind = "unavailable"
	FailureBadResult   FailureKind = "bad_result"
)

// DetectionVerdict is the outcome of one heavy classification attempt.
// Successful verdicts may be memoized by frame content; failures never are.
type DetectionVerdict struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Severity   Severity    `json:"severity"`
	Failure    FailureKind `json:"failure,omitempty"`
	Reason     string      `json:"reason,omitempty"` // human-readable failure reason
}

func (v *DetectionVerdict) Failed() bool {
	return v != nil && v.Failure != FailureNone
}

// AudioRef is either an inline encoded clip or a fetchable locator,
// never both.
type AudioRef struct {
	Payload []byte `json:"payload,omitempty"` // encoded audio bytes (inline delivery)
	URL     string `json:"url,omitempty"`
	Mime    string `json:"mime,omitempty"`
}

func (a AudioRef) Empty() bool {
	return len(a.Payload) == 0 && a.URL == ""
}

// ResponsePayload is the answer bundle produced for one final utterance.
type ResponsePayload struct {
	Text        string            `json:"text"`
	Detection   *DetectionVerdict `json:"detection,omitempty"`
	Audio       AudioRef          `json:"audio"`
	GeneratedAt time.Time         `json:"generated_at"`
}
