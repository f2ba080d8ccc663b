package models

import "time"

// ConnState tracks where a session's transport channel is in its lifecycle.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosing    ConnState = "closing"
	ConnClosed     ConnState = "closed"
)

type Session struct {
	SessionID string    `json:"session_id"` // uuid v4, chosen by the client so it survives reconnects
	Language  string    `json:"language"`   // english|hindi
	State     ConnState `json:"state"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Touch bumps the activity timestamp; the registry reaper uses it to expire
// idle sessions.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
