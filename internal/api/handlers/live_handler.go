package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/live"
	"github.com/trinera/agrolive/internal/models"
	"github.com/trinera/agrolive/internal/protocol"
	"github.com/trinera/agrolive/internal/utils"
)

const readTimeout = 90 * time.Second

// LiveHandler owns the live-mode WebSocket endpoint. Each accepted
// connection gets its own dispatcher; the registry tracks them and reaps
// the idle ones.
type LiveHandler struct {
	registry *live.Registry
	prov     live.Providers
	stores   live.Stores
	cfg      live.Config
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewLiveHandler(registry *live.Registry, prov live.Providers, stores live.Stores, cfg live.Config, log *logrus.Logger) *LiveHandler {
	if log == nil {
		log = logrus.New()
	}
	return &LiveHandler{
		registry: registry,
		prov:     prov,
		stores:   stores,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

// wsConn serializes writes; dispatcher goroutines and the read loop all
// send through it.
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) Send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// LiveWS upgrades the connection and runs the session loop. The first
// message must be init; until it arrives everything else is rejected.
// A reconnect with an id the registry already holds replaces the old
// entry, so the client keeps its session across drops.
func (h *LiveHandler) LiveWS(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "LiveHandler.LiveWS", "missing session_id", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.log.WithField("session_id", sessionID)
	log.Info("live connection opened")

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	var (
		d          *live.Dispatcher
		unregister func()
	)
	defer func() {
		if d != nil {
			d.Shutdown()
		}
		if unregister != nil {
			unregister()
		}
		log.Info("live connection closed")
	}()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, derr := protocol.DecodeClientMessage(data)
		if derr != nil {
			_ = wc.Send(protocol.NewError(derr.Error()))
			continue
		}

		if init, ok := msg.(protocol.Init); ok {
			if d != nil {
				// a second init on a live connection is a no-op
				d.Greet()
				continue
			}
			sess := &models.Session{
				SessionID:    sessionID,
				Language:     live.NormalizeLanguage(init.Language),
				State:        models.ConnOpen,
				CreatedAt:    time.Now().UTC(),
				LastActivity: time.Now().UTC(),
			}
			d = live.NewDispatcher(sess, wc, h.prov, h.stores, h.cfg, h.log)
			unregister = h.registry.Register(d, func() {
				cancel()
				_ = conn.Close()
			})
			d.Greet()
			log.WithField("language", sess.Language).Info("session initialized")
			continue
		}

		if d == nil {
			_ = wc.Send(protocol.NewError("init required before other messages"))
			continue
		}

		switch m := msg.(type) {
		case protocol.Frame:
			go d.HandleFrame(ctx, m.ImageData, frameTime(m.TimestampMS))
		case protocol.Voice:
			go d.HandleUtterance(ctx, m.Transcript)
		case protocol.Interrupt:
			d.HandleInterrupt()
		case protocol.Ping:
			d.HandlePing()
		case protocol.Unknown:
			log.WithField("type", m.Type).Warn("unknown message type ignored")
		}
	}
}

// frameTime converts the client's capture timestamp; clients that omit it
// get the arrival time instead.
func frameTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
