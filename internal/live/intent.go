package live

import (
	"strings"

	"github.com/trinera/agrolive/internal/models"
)

// pest-detection trigger phrases, english and hindi
var pestKeywords = []string{
	"pest", "bug", "insect", "what is this", "identify", "this is",
	"attacking", "eating", "damage", "problem", "disease",
	"what pest", "which pest", "name this", "tell me about",
	"aphid", "whitefly", "beetle", "caterpillar", "worm",
	"कीट", "रोग", "समस्या", "यह क्या है", "पहचान",
}

// IntentMatch is the Stage B outcome: a synchronous keyword/category match
// between the utterance and the latest frame observation.
type IntentMatch struct {
	Escalate      bool
	Score         float64
	Reason        string
	PestQuery     bool
	RelevantFrame bool
}

// escalationThreshold is crossed only when the query is pest-related AND
// the frame looks relevant (0.5 + 0.3).
const escalationThreshold = 0.75

// MatchIntent decides whether the utterance warrants the expensive
// classifier. Must stay cheap: no I/O, string matching only.
func MatchIntent(transcript string, obs *models.FrameObservation) IntentMatch {
	query := strings.ToLower(transcript)

	m := IntentMatch{}
	for _, kw := range pestKeywords {
		if strings.Contains(query, kw) {
			m.PestQuery = true
			break
		}
	}

	var confidence float64
	if obs != nil {
		m.RelevantFrame = obs.Relevant
		confidence = obs.Confidence
	}

	if m.PestQuery {
		m.Score += 0.5
	}
	if m.RelevantFrame {
		m.Score += 0.3
	}
	if confidence > 0.5 {
		m.Score += 0.2
	}

	m.Escalate = m.Score > escalationThreshold

	switch {
	case m.Escalate:
		m.Reason = "pest-related query with relevant objects in frame"
	case m.PestQuery && !m.RelevantFrame:
		m.Reason = "pest query but no relevant objects in frame"
	case !m.PestQuery && m.RelevantFrame:
		m.Reason = "general question, skipping heavy detection"
	default:
		m.Reason = "no pest query and no relevant content"
	}

	return m
}
