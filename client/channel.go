// Package client implements the device side of the live session: the
// WebSocket channel, frame capture, the speech loop, and answer playback.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/models"
	"github.com/trinera/agrolive/internal/protocol"
)

var ErrChannelClosed = errors.New("live channel closed")

const (
	dialTimeout    = 15 * time.Second
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 15 * time.Second
)

type Config struct {
	ServerURL string // http(s) or ws(s) base, e.g. http://localhost:8080
	SessionID string // generated when empty; reused across reconnects
	Language  string // english|hindi
	Log       *logrus.Logger
}

// Channel is the one bidirectional connection a session runs over. It
// redials on failure with backoff and re-sends init with the same session
// id and language, so the server resumes rather than restarts.
type Channel struct {
	cfg Config
	log *logrus.Entry
	wsu string

	mu    sync.Mutex
	conn  *websocket.Conn
	state models.ConnState

	events chan any
	done   chan struct{}
	once   sync.Once
}

// Dial connects, sends init, and starts the read loop.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Language == "" {
		cfg.Language = "english"
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}

	wsu, err := wsURL(cfg.ServerURL, cfg.SessionID)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		cfg:    cfg,
		log:    cfg.Log.WithField("session_id", cfg.SessionID),
		wsu:    wsu,
		state:  models.ConnConnecting,
		events: make(chan any, 32),
		done:   make(chan struct{}),
	}
	if err := ch.connect(ctx); err != nil {
		return nil, err
	}
	go ch.readLoop(ctx)
	return ch, nil
}

func wsURL(server, sessionID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/live/" + sessionID
	return u.String(), nil
}

func (ch *Channel) SessionID() string { return ch.cfg.SessionID }

func (ch *Channel) State() models.ConnState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Events delivers decoded server messages. The channel closes when the
// session is closed for good.
func (ch *Channel) Events() <-chan any { return ch.events }

func (ch *Channel) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dctx, ch.wsu, nil)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.state = models.ConnOpen
	ch.mu.Unlock()

	// same id and language every time, including reconnects
	return ch.Send(protocol.Init{Type: protocol.TypeInit, Language: ch.cfg.Language})
}

func (ch *Channel) readLoop(ctx context.Context) {
	defer close(ch.events)
	backoff := initialBackoff

	for {
		ch.mu.Lock()
		conn := ch.conn
		ch.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				return
			case <-ctx.Done():
				return
			default:
			}

			ch.mu.Lock()
			ch.state = models.ConnConnecting
			ch.mu.Unlock()

			ch.log.WithError(err).Warn("connection lost, reconnecting")
			if !ch.redial(ctx, &backoff) {
				return
			}
			continue
		}
		backoff = initialBackoff

		msg, derr := protocol.DecodeServerMessage(data)
		if derr != nil {
			ch.log.WithError(derr).Warn("bad server frame ignored")
			continue
		}
		if u, ok := msg.(protocol.Unknown); ok {
			ch.log.WithField("type", u.Type).Debug("unknown server message ignored")
			continue
		}

		select {
		case ch.events <- msg:
		case <-ch.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// redial retries until connected or the session ends. Backoff doubles and
// carries jitter so a fleet of clients does not stampede the server.
func (ch *Channel) redial(ctx context.Context, backoff *time.Duration) bool {
	for {
		jitter := time.Duration(rand.Int63n(int64(*backoff) / 4))
		select {
		case <-time.After(*backoff + jitter):
		case <-ch.done:
			return false
		case <-ctx.Done():
			return false
		}

		if err := ch.connect(ctx); err == nil {
			ch.log.Info("reconnected")
			return true
		} else {
			ch.log.WithError(err).Debug("redial failed")
		}

		*backoff *= 2
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
	}
}

// Send marshals and writes one message; writes are serialized.
func (ch *Channel) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == models.ConnClosed || ch.conn == nil {
		return ErrChannelClosed
	}
	ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ch.conn.WriteMessage(websocket.TextMessage, b)
}

func (ch *Channel) SendFrame(jpeg []byte) error {
	return ch.Send(protocol.Frame{
		Type:        protocol.TypeFrame,
		ImageData:   base64.StdEncoding.EncodeToString(jpeg),
		TimestampMS: time.Now().UnixMilli(),
	})
}

func (ch *Channel) SendVoice(transcript string) error {
	return ch.Send(protocol.Voice{Type: protocol.TypeVoice, Transcript: transcript})
}

func (ch *Channel) SendInterrupt() error {
	return ch.Send(protocol.Interrupt{Type: protocol.TypeInterrupt})
}

func (ch *Channel) SendPing() error {
	return ch.Send(protocol.Ping{Type: protocol.TypePing})
}

// Close ends the session for good; no reconnect follows.
func (ch *Channel) Close() error {
	var err error
	ch.once.Do(func() {
		close(ch.done)
		ch.mu.Lock()
		ch.state = models.ConnClosed
		if ch.conn != nil {
			err = ch.conn.Close()
		}
		ch.mu.Unlock()
	})
	return err
}
