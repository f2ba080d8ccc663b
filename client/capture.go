package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/models"
)

const defaultFrameInterval = 3 * time.Second

// FrameSource yields one encoded frame per call. Returning (nil, nil)
// means no frame is available right now and the tick is skipped.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Capturer sends frames on a fixed cadence. A tick is dropped rather than
// queued when the channel is not open or the previous send has not
// finished, so a slow link never builds a frame backlog.
type Capturer struct {
	ch       *Channel
	src      FrameSource
	interval time.Duration
	log      *logrus.Entry

	sending atomic.Bool
}

func NewCapturer(ch *Channel, src FrameSource, interval time.Duration, log *logrus.Logger) *Capturer {
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	if log == nil {
		log = logrus.New()
	}
	return &Capturer{
		ch:       ch,
		src:      src,
		interval: interval,
		log:      log.WithField("session_id", ch.SessionID()),
	}
}

// Run blocks until the context ends or the channel closes.
func (c *Capturer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if c.ch.State() != models.ConnOpen {
			c.log.Debug("frame skipped: channel not open")
			continue
		}
		if !c.sending.CompareAndSwap(false, true) {
			c.log.Debug("frame skipped: previous send pending")
			continue
		}

		frame, err := c.src.NextFrame(ctx)
		if err != nil {
			c.sending.Store(false)
			c.log.WithError(err).Warn("frame grab failed")
			continue
		}
		if len(frame) == 0 {
			c.sending.Store(false)
			continue
		}

		go func(frame []byte) {
			defer c.sending.Store(false)
			if err := c.ch.SendFrame(frame); err != nil {
				c.log.WithError(err).Debug("frame send failed")
			}
		}(frame)
	}
}
