package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func returnSession(at time.Time) Session {
	return Session{SessionID: "s1", LastActivity: at}
}

func TestSessionIdleFor(t *testing.T) {
	now := time.Now().UTC()

	s := Session{LastActivity: now.Add(-90 * time.Second)}
	assert.Equal(t, 90*time.Second, s.IdleFor(now))

	// callable on a non-addressable value, as the registry reaper does
	assert.Equal(t, time.Minute, returnSession(now.Add(-time.Minute)).IdleFor(now))
}

func TestSessionTouch(t *testing.T) {
	now := time.Now().UTC()
	s := Session{LastActivity: now.Add(-time.Hour)}
	s.Touch(now)
	assert.Zero(t, s.IdleFor(now))
}
