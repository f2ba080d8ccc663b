package models

import "time"

// FrameObservation is the lightweight analysis of the most recent camera
// frame. At most one exists per session; a newer frame always replaces it.
type FrameObservation struct {
	CapturedAt  time.Time `json:"captured_at"`
	Labels      []string  `json:"labels,omitempty"`
	Relevant    bool      `json:"relevant"` // looks pest/crop related
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`

	// Raw holds the encoded frame bytes so an escalated detection can reuse
	// the image the observation was computed from. Superseded by the next
	// frame, never retained as history.
	Raw []byte `json:"-"`
}

// Utterance is one spoken input. Interim utterances stay on the client;
// only final ones reach the dispatcher.
type Utterance struct {
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	ArrivedAt time.Time `json:"arrived_at"`
}
