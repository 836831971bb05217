package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicebridge/internal/adapters/http"
	"github.com/dkeye/voicebridge/internal/adapters/livekit"
	"github.com/dkeye/voicebridge/internal/adapters/stream"
	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/app/call"
	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "voicebridge",
		Short:         "Bridge phone call media streams into LiveKit rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("mode", "", "gin mode: debug or release")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("mode", root.PersistentFlags().Lookup("mode"))

	load := func() (*config.Config, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, err
		}
		setupLogger(cfg)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(v, load), newTokenCmd(load))
	return root
}

// setupLogger configures the global zerolog logger: console output in debug
// mode, JSON otherwise.
func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newServeCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the media stream bridge and call webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().Int("port", 0, "listen port")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	tokens := livekit.NewTokenIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
	connector := livekit.NewConnector(livekit.ConnectorConfig{
		URL:            cfg.LiveKit.URL,
		Warmup:         cfg.Bridge.Warmup,
		ConnectTimeout: cfg.Bridge.ConnectTimeout,
		PublishQueue:   cfg.Bridge.PublishQueue,
	}, tokens)

	reg := app.NewRegistry()
	ctl := stream.NewStreamWSController(cfg.Stream, connector, reg, call.OptionsFromConfig(cfg.Bridge, m))

	// Sessions outlive ctx until CloseAll.
	sessCtx, sessCancel := context.WithCancel(context.Background())
	defer sessCancel()

	r := router.SetupRouter(sessCtx, cfg, router.Deps{Stream: ctl, Registry: reg})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("stream_path", cfg.Stream.Path).Msg("voicebridge started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Int("active_calls", reg.Count()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		reg.CloseAll()
		sessCancel()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server exited gracefully")
	return nil
}

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var callSID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a room join credential for a call id",
		Long: `Print the LiveKit access token the bridge would use for a call.

Examples:
  voicebridge token --call CA0123456789abcdef`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c := domain.NewCall(callSID, "")
			jwt, err := livekit.NewTokenIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL).
				Issue(c.Room, c.Identity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room: %s\nidentity: %s\ntoken: %s\n", c.Room, c.Identity, jwt)
			return nil
		},
	}
	cmd.Flags().StringVar(&callSID, "call", "", "call id; a fallback id is generated when empty")
	return cmd
}
