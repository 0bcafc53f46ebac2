package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Audio     AudioConfig     `mapstructure:"audio"`
	ASR       ASRConfig       `mapstructure:"asr"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redact    RedactConfig    `mapstructure:"redact"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AudioConfig struct {
	Provider        string         `mapstructure:"provider"`
	SampleRate      int            `mapstructure:"sample_rate"`
	Channels        int            `mapstructure:"channels"`
	FrameIntervalMs int            `mapstructure:"frame_interval_ms"`
	DeviceRate      int            `mapstructure:"device_rate"`
	Settings        map[string]any `mapstructure:"settings"`
}

type ASRConfig struct {
	Provider       string         `mapstructure:"provider"`
	APIKey         string         `mapstructure:"api_key"`
	Endpoint       string         `mapstructure:"endpoint"`
	Model          string         `mapstructure:"model"`
	Language       string         `mapstructure:"language"`
	Diarize        bool           `mapstructure:"diarize"`
	Punctuate      bool           `mapstructure:"punctuate"`
	SmartFormat    bool           `mapstructure:"smart_format"`
	InterimResults bool           `mapstructure:"interim_results"`
	UtteranceEndMs int            `mapstructure:"utterance_end_ms"`
	Settings       map[string]any `mapstructure:"settings"`
}

type PersistConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Token             string `mapstructure:"token"`
	DebounceMs        int    `mapstructure:"debounce_ms"`
	SaveTimeoutMs     int    `mapstructure:"save_timeout_ms"`
	RetryMax          int    `mapstructure:"retry_max"`
	RetryBackoffMs    int    `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int    `mapstructure:"breaker_threshold"`
	BreakerCooldownMs int    `mapstructure:"breaker_cooldown_ms"`
}

type ReconnectConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// JSONLPath, when set, appends every metrics event to this file as
	// one JSON object per line.
	JSONLPath string `mapstructure:"jsonl_path"`
}

type RedactConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from the given file (optional), applies
// defaults, and overlays SCRIBE_* environment variables. ${VAR} references
// inside string values are expanded from the environment so secrets never
// live in the file itself.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("audio.provider", "portaudio")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_interval_ms", 250)

	v.SetDefault("asr.provider", "deepgram")
	v.SetDefault("asr.model", "nova-2")
	v.SetDefault("asr.language", "en-US")
	v.SetDefault("asr.diarize", true)
	v.SetDefault("asr.punctuate", true)
	v.SetDefault("asr.smart_format", true)
	v.SetDefault("asr.interim_results", true)
	v.SetDefault("asr.utterance_end_ms", 3000)

	v.SetDefault("persist.debounce_ms", 1000)
	v.SetDefault("persist.save_timeout_ms", 10000)
	v.SetDefault("persist.retry_max", 2)
	v.SetDefault("persist.retry_backoff_ms", 200)
	v.SetDefault("persist.breaker_threshold", 3)
	v.SetDefault("persist.breaker_cooldown_ms", 30000)

	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.base_delay_ms", 2000)
	v.SetDefault("reconnect.max_delay_ms", 30000)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "scribe.transcript.events")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("redact.enabled", true)
}

func (c *Config) expandEnv() {
	c.ASR.APIKey = os.ExpandEnv(c.ASR.APIKey)
	c.ASR.Endpoint = os.ExpandEnv(c.ASR.Endpoint)
	c.Persist.BaseURL = os.ExpandEnv(c.Persist.BaseURL)
	c.Persist.Token = os.ExpandEnv(c.Persist.Token)
	for i, b := range c.Kafka.Brokers {
		c.Kafka.Brokers[i] = os.ExpandEnv(b)
	}
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.FrameIntervalMs < 20 || c.Audio.FrameIntervalMs > 2000 {
		return fmt.Errorf("audio.frame_interval_ms out of range: %d", c.Audio.FrameIntervalMs)
	}
	if c.ASR.Provider == "" {
		return fmt.Errorf("asr.provider is required")
	}
	if c.ASR.Provider == "deepgram" && c.ASR.APIKey == "" {
		return fmt.Errorf("asr.api_key is required for deepgram")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Persist.DebounceMs) * time.Millisecond
}

func (c *Config) SaveTimeout() time.Duration {
	return time.Duration(c.Persist.SaveTimeoutMs) * time.Millisecond
}
