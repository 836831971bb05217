package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/adapters/stream"
	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/config"
)

const serviceName = "voicebridge"

type Deps struct {
	Stream   *stream.StreamWSController
	Registry *app.Registry
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET(cfg.Stream.Path, func(c *gin.Context) {
		deps.Stream.HandleStream(ctx, c)
	})

	r.POST("/twilio-stream", twilioStreamHandler(cfg.Stream.Greeting, cfg.Stream.PublicURL, cfg.Stream.Path))
	r.POST("/call-status", callStatusHandler)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"service":      serviceName,
			"active_calls": deps.Registry.Count(),
		})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("stream_path", cfg.Stream.Path).Msg("router setup")
	return r
}
