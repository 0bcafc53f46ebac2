package scribe

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/audio"
	"github.com/itsmartinwho/foresight-scribe/pkg/config"
	"github.com/itsmartinwho/foresight-scribe/pkg/providers/deepgram"
	"github.com/itsmartinwho/foresight-scribe/pkg/providers/mock"
	"github.com/itsmartinwho/foresight-scribe/pkg/providers/portaudio"
)

// CaptureFactory builds a capture source for one session.
type CaptureFactory func(cfg *config.Config, log *slog.Logger) (audio.CaptureSource, error)

// ASRFactory builds a fresh recognizer connection. It is invoked per
// connection, including reconnects.
type ASRFactory func(cfg *config.Config, log *slog.Logger) asr.StreamingASR

// Registry maps provider names from configuration to constructors.
type Registry struct {
	mu       sync.RWMutex
	captures map[string]CaptureFactory
	asrs     map[string]ASRFactory
}

func NewRegistry() *Registry {
	return &Registry{
		captures: make(map[string]CaptureFactory),
		asrs:     make(map[string]ASRFactory),
	}
}

// NewDefaultRegistry wires the built-in providers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterCapture("portaudio", buildPortaudioCapture)
	r.RegisterCapture("mock", buildMockCapture)
	r.RegisterASR("deepgram", buildDeepgramASR)
	r.RegisterASR("mock", buildMockASR)
	return r
}

func (r *Registry) RegisterCapture(name string, f CaptureFactory) {
	r.mu.Lock()
	r.captures[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterASR(name string, f ASRFactory) {
	r.mu.Lock()
	r.asrs[name] = f
	r.mu.Unlock()
}

func (r *Registry) BuildCapture(cfg *config.Config, log *slog.Logger) (audio.CaptureSource, error) {
	r.mu.RLock()
	f, ok := r.captures[cfg.Audio.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown audio provider %q", cfg.Audio.Provider)
	}
	return f(cfg, log)
}

func (r *Registry) ASRBuilder(cfg *config.Config, log *slog.Logger) (func() asr.StreamingASR, error) {
	r.mu.RLock()
	f, ok := r.asrs[cfg.ASR.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown asr provider %q", cfg.ASR.Provider)
	}
	return func() asr.StreamingASR { return f(cfg, log) }, nil
}

type portaudioSettings struct {
	DeviceRate int `mapstructure:"device_rate"`
}

func buildPortaudioCapture(cfg *config.Config, log *slog.Logger) (audio.CaptureSource, error) {
	var settings portaudioSettings
	if len(cfg.Audio.Settings) > 0 {
		if err := config.DecodeSettings(cfg.Audio.Settings, &settings); err != nil {
			return nil, err
		}
	}
	deviceRate := cfg.Audio.DeviceRate
	if settings.DeviceRate > 0 {
		deviceRate = settings.DeviceRate
	}
	return portaudio.New(portaudio.Options{
		Audio:      audioConfig(cfg),
		DeviceRate: deviceRate,
		Logger:     log,
	}), nil
}

func buildMockCapture(cfg *config.Config, _ *slog.Logger) (audio.CaptureSource, error) {
	return mock.NewCapture(audioConfig(cfg)), nil
}

func buildDeepgramASR(cfg *config.Config, log *slog.Logger) asr.StreamingASR {
	return deepgram.New(deepgram.Options{
		APIKey:   cfg.ASR.APIKey,
		Endpoint: cfg.ASR.Endpoint,
		ASR:      asrConfig(cfg),
		Logger:   log,
	})
}

func buildMockASR(_ *config.Config, _ *slog.Logger) asr.StreamingASR {
	return mock.NewASR(nil)
}

func audioConfig(cfg *config.Config) audio.Config {
	return audio.Config{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameInterval: cfg.Audio.FrameIntervalMs,
	}
}

func asrConfig(cfg *config.Config) asr.Config {
	return asr.Config{
		Model:         cfg.ASR.Model,
		Language:      cfg.ASR.Language,
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		Encoding:      "linear16",
		Diarize:       cfg.ASR.Diarize,
		Punctuate:     cfg.ASR.Punctuate,
		SmartFormat:   cfg.ASR.SmartFormat,
		InterimEvents: cfg.ASR.InterimResults,
		UtteranceEnd:  cfg.ASR.UtteranceEndMs,
	}
}
