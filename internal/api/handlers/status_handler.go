package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trinera/agrolive/internal/live"
	"github.com/trinera/agrolive/internal/utils"
)

// StatusHandler exposes the read-only HTTP surface next to the WebSocket:
// service status, active sessions, and the per-session audio fetch route
// for clips too large to inline.
type StatusHandler struct {
	registry *live.Registry
	prov     live.Providers
	clips    *live.ClipStore
}

func NewStatusHandler(registry *live.Registry, prov live.Providers, clips *live.ClipStore) *StatusHandler {
	return &StatusHandler{registry: registry, prov: prov, clips: clips}
}

func (h *StatusHandler) LiveStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.registry.Count(),
		"providers": gin.H{
			"vision":   h.prov.Vision != nil,
			"detector": h.prov.Detector != nil,
			"llm":      h.prov.LLM != nil,
			"tts":      h.prov.TTS != nil,
		},
	})
}

func (h *StatusHandler) LiveSessions(c *gin.Context) {
	sessions := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// ServeTTS returns the most recent synthesized clip for a session. Clips
// are replaced on every synthesis, so the client fetches promptly and the
// URL carries a version query to defeat caching.
func (h *StatusHandler) ServeTTS(c *gin.Context) {
	sessionID := c.Param("session_id")
	clip, ok := h.clips.Get(sessionID)
	if !ok {
		writeError(c, utils.E(utils.CodeNotFound, "StatusHandler.ServeTTS", "no audio for session", nil))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, clip.Mime, clip.Data)
}
