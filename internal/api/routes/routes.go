package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/trinera/agrolive/internal/api/handlers"
)

type Deps struct {
	Live   *handlers.LiveHandler
	Status *handlers.StatusHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.GET("/live/status", d.Status.LiveStatus)
	r.GET("/live/sessions", d.Status.LiveSessions)
	r.GET("/live/tts/:session_id", d.Status.ServeTTS)

	// WebSocket
	r.GET("/ws/live/:session_id", d.Live.LiveWS)
}
