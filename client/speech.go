package client

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/providers/stt"
)

const recognizerRestartDelay = 300 * time.Millisecond

// RecognizerFactory builds a fresh recognizer for each run; restarts get
// a new one so a wedged stream never leaks into the next run.
type RecognizerFactory func(ctx context.Context) (stt.Recognizer, error)

// Speech runs continuous recognition and forwards final transcripts to
// the server. No-input runs restart silently, an unknown error restarts
// once with a warning, and a second consecutive failure or a dead input
// device ends the loop for good. A final transcript that lands
// mid-playback sends interrupt first so the server and the local player
// both stop the stale answer.
type Speech struct {
	ch     *Channel
	newRec RecognizerFactory
	player *Player // may be nil in text-only clients
	log    *logrus.Entry
}

func NewSpeech(ch *Channel, factory RecognizerFactory, player *Player, log *logrus.Logger) *Speech {
	if log == nil {
		log = logrus.New()
	}
	return &Speech{
		ch:     ch,
		newRec: factory,
		player: player,
		log:    log.WithField("session_id", ch.SessionID()),
	}
}

// Run blocks until the context ends or the microphone becomes unusable.
// One failed run gets a retry; a retry that fails again ends the loop
// rather than spinning on a recognizer that will not recover.
func (s *Speech) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := s.newRec(ctx)
		if err != nil {
			return err
		}

		fatal, failed, err := s.runOnce(ctx, rec)
		_ = rec.Close()
		if fatal {
			return err
		}
		if failed {
			failures++
			if failures > 1 {
				s.log.WithError(err).Error("recognizer failed twice in a row, voice input disabled")
				return err
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(recognizerRestartDelay):
		}
	}
}

// runOnce drains one recognition run. fatal means the loop must stop for
// good; failed marks runs that ended on an unexpected error and count
// against the retry budget.
func (s *Speech) runOnce(ctx context.Context, rec stt.Recognizer) (fatal, failed bool, err error) {
	events, err := rec.Run(ctx)
	if err != nil {
		s.log.WithError(err).Warn("recognizer start failed")
		return false, true, err
	}

	for ev := range events {
		if ev.Err != nil {
			switch ev.Err.Kind {
			case stt.ErrNoInput:
				s.log.Debug("no speech detected, restarting recognizer")
				return false, false, nil
			case stt.ErrDeviceUnavailable:
				s.log.WithError(ev.Err).Error("microphone unavailable, voice input disabled")
				return true, false, ev.Err
			default:
				s.log.WithError(ev.Err).Warn("recognition failed, restarting recognizer")
				return false, true, ev.Err
			}
		}

		if !ev.Final {
			continue
		}
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			continue
		}

		if s.player != nil && s.player.Playing() {
			_ = s.ch.SendInterrupt()
			s.player.Stop()
		}
		if err := s.ch.SendVoice(text); err != nil {
			s.log.WithError(err).Warn("voice send failed")
		} else {
			s.log.WithField("transcript", text).Info("utterance sent")
		}
	}
	return false, false, nil
}
