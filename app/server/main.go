package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/config"
	"github.com/trinera/agrolive/internal/api/handlers"
	"github.com/trinera/agrolive/internal/api/middleware"
	"github.com/trinera/agrolive/internal/api/routes"
	"github.com/trinera/agrolive/internal/cache"
	"github.com/trinera/agrolive/internal/convo"
	"github.com/trinera/agrolive/internal/live"
	"github.com/trinera/agrolive/internal/logger"
	"github.com/trinera/agrolive/internal/providers/detector"
	"github.com/trinera/agrolive/internal/providers/llm"
	"github.com/trinera/agrolive/internal/providers/tts"
	"github.com/trinera/agrolive/internal/providers/vision"
	"github.com/trinera/agrolive/internal/storage"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it conversation context lives in memory
	// and detection verdicts are not memoized.
	stores := live.Stores{Clips: live.NewClipStore()}
	if config.RedisConfigured() {
		if err := config.InitRedis(ctx); err != nil {
			log.WithError(err).Fatal("redis init failed")
		}
		stores.Context = convo.NewRedisStore(config.RedisClient, 0, 0)
		stores.Verdicts = cache.NewRedis(config.RedisClient, "agrolive")
		log.Info("redis connected")
	} else {
		stores.Context = convo.NewMemoryStore(0)
		log.Info("redis not configured, in-memory context")
	}

	prov := buildProviders(ctx, log, &stores)
	defer closeProviders(prov, stores)

	registry := live.NewRegistry(idleTimeout(), log)
	go registry.RunReaper(ctx, time.Minute)

	liveH := handlers.NewLiveHandler(registry, prov, stores, live.Config{}, log)
	statusH := handlers.NewStatusHandler(registry, prov, stores.Clips)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{Live: liveH, Status: statusH})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	registry.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.Wait(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

// buildProviders wires whichever external services the environment
// configures. Missing ones stay nil and the dispatcher degrades.
func buildProviders(ctx context.Context, log *logrus.Logger, stores *live.Stores) live.Providers {
	var prov live.Providers

	if token := os.Getenv("HF_API_TOKEN"); token != "" {
		prov.Vision = vision.NewHuggingFace(os.Getenv("HF_VISION_MODEL"), token)
	}

	if space := os.Getenv("GRADIO_SPACE_URL"); space != "" {
		g, err := detector.NewGradioSpace(space, os.Getenv("HF_API_TOKEN"))
		if err != nil {
			log.WithError(err).Warn("gradio detector init failed")
		} else {
			prov.Detector = g
		}
	}

	if project := os.Getenv("GCP_PROJECT"); project != "" {
		location := os.Getenv("VERTEX_LOCATION")
		if location == "" {
			location = "us-central1"
		}
		model := os.Getenv("VERTEX_MODEL")
		if model == "" {
			model = "gemini-1.5-flash"
		}
		v, err := llm.NewVertexGemini(ctx, project, location, model)
		if err != nil {
			log.WithError(err).Warn("vertex llm init failed")
		} else {
			prov.LLM = v
		}

		t, err := tts.NewGoogleTTS(ctx)
		if err != nil {
			log.WithError(err).Warn("google tts init failed")
		} else {
			prov.TTS = t
		}
	}

	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		u, err := storage.NewGCSUploader(ctx, bucket)
		if err != nil {
			log.WithError(err).Warn("gcs uploader init failed")
		} else {
			stores.Uploader = u
		}
	}

	return prov
}

func closeProviders(prov live.Providers, stores live.Stores) {
	if prov.Vision != nil {
		_ = prov.Vision.Close()
	}
	if prov.Detector != nil {
		_ = prov.Detector.Close()
	}
	if prov.LLM != nil {
		_ = prov.LLM.Close()
	}
	if prov.TTS != nil {
		_ = prov.TTS.Close()
	}
	if u, ok := stores.Uploader.(interface{ Close() error }); ok {
		_ = u.Close()
	}
}

func idleTimeout() time.Duration {
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0 // registry default
}
