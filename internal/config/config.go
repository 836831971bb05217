package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrMissingLiveKitURL    = errors.New("livekit.url is required")
	ErrMissingLiveKitKey    = errors.New("livekit.api_key is required")
	ErrMissingLiveKitSecret = errors.New("livekit.api_secret is required")
	ErrConnectAttempts      = errors.New("bridge.connect_attempts must be at least 1")
)

type Config struct {
	Mode     string        `mapstructure:"mode"`
	LogLevel string        `mapstructure:"log_level"`
	Port     int           `mapstructure:"port"`
	LiveKit  LiveKitConfig `mapstructure:"livekit"`
	Stream   StreamConfig  `mapstructure:"stream"`
	Bridge   BridgeConfig  `mapstructure:"bridge"`
}

type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// StreamConfig covers the telephony websocket endpoint.
type StreamConfig struct {
	Path       string        `mapstructure:"path"`
	PublicURL  string        `mapstructure:"public_url"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// ConnLimit caps new stream connections per remote address per ConnWindow; 0 disables it.
	ConnLimit  int           `mapstructure:"conn_limit"`
	ConnWindow time.Duration `mapstructure:"conn_window"`
	Greeting   string        `mapstructure:"greeting"`
}

// BridgeConfig tunes the per-call audio pipelines.
type BridgeConfig struct {
	Warmup          time.Duration `mapstructure:"warmup"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	DownlinkBuffer  int           `mapstructure:"downlink_buffer"`
	PublishQueue    int           `mapstructure:"publish_queue"`
	MaxSendDrops    int           `mapstructure:"max_send_drops"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8081)

	v.SetDefault("livekit.token_ttl", "10m")

	v.SetDefault("stream.path", "/media-stream")
	v.SetDefault("stream.read_limit", 65536)
	v.SetDefault("stream.ping_period", "30s")
	v.SetDefault("stream.send_buffer", 64)
	v.SetDefault("stream.conn_limit", 0)
	v.SetDefault("stream.conn_window", "1m")
	v.SetDefault("stream.greeting", "Hello! Connecting you to your AI assistant. Please wait a moment.")

	v.SetDefault("bridge.warmup", "1s")
	v.SetDefault("bridge.connect_timeout", "10s")
	v.SetDefault("bridge.connect_attempts", 3)
	v.SetDefault("bridge.retry_delay", "500ms")
	v.SetDefault("bridge.send_timeout", "50ms")
	v.SetDefault("bridge.downlink_buffer", 50)
	v.SetDefault("bridge.publish_queue", 50)
	v.SetDefault("bridge.max_send_drops", 0)
}

// New returns a viper instance with defaults and environment bindings.
// The LiveKit variables keep their conventional unprefixed names.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("VOICEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("livekit.url", "LIVEKIT_URL", "VOICEBRIDGE_LIVEKIT_URL")
	_ = v.BindEnv("livekit.api_key", "LIVEKIT_API_KEY", "VOICEBRIDGE_LIVEKIT_API_KEY")
	_ = v.BindEnv("livekit.api_secret", "LIVEKIT_API_SECRET", "VOICEBRIDGE_LIVEKIT_API_SECRET")
	return v
}

// Load reads the config file (explicit path, or config/config.<CONFIG_ENV>.yaml)
// into v and decodes it. A missing file falls back to defaults and environment.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("stream_path", cfg.Stream.Path).
		Str("livekit_url", cfg.LiveKit.URL).
		Msg("config ready")
	return &cfg, nil
}

// Validate reports settings the bridge cannot start with. It does not
// modify c.
func (c *Config) Validate() error {
	var errs []error
	if c.LiveKit.URL == "" {
		errs = append(errs, ErrMissingLiveKitURL)
	}
	if c.LiveKit.APIKey == "" {
		errs = append(errs, ErrMissingLiveKitKey)
	}
	if c.LiveKit.APISecret == "" {
		errs = append(errs, ErrMissingLiveKitSecret)
	}
	if c.Bridge.ConnectAttempts < 1 {
		errs = append(errs, ErrConnectAttempts)
	}
	return errors.Join(errs...)
}
