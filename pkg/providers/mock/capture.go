package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/audio"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

// Capture emits silence frames on a fixed interval. Useful for exercising a
// session end to end without a microphone.
type Capture struct {
	cfg audio.Config
	pts *frames.PTSGen

	out       chan frames.AudioFrame
	sessionID string

	paused atomic.Bool
	once   sync.Once
	cancel context.CancelFunc
}

func NewCapture(cfg audio.Config) *Capture {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 250
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Capture{
		cfg: cfg,
		pts: frames.NewPTSGen(),
		out: make(chan frames.AudioFrame, 16),
	}
}

func (c *Capture) Name() string { return "mock" }

// Open starts the frame ticker. The loop lives until Close; the ctx
// argument bounds setup only, so a cancelled caller context cannot tear
// the stream down mid-session.
func (c *Capture) Open(ctx context.Context, sessionID string) error {
	c.sessionID = sessionID
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(loopCtx)
	return nil
}

func (c *Capture) loop(ctx context.Context) {
	defer close(c.out)
	interval := time.Duration(c.cfg.FrameInterval) * time.Millisecond
	payload := make([]byte, c.cfg.SampleRate*c.cfg.FrameInterval/1000*c.cfg.Channels*2)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.paused.Load() {
				continue
			}
			f := frames.NewAudioFrame(c.sessionID, c.pts.Next(c.sessionID), payload,
				c.cfg.SampleRate, c.cfg.Channels,
				map[string]string{frames.MetaSource: "mock"})
			select {
			case c.out <- f:
			default:
			}
		}
	}
}

func (c *Capture) Pause() error  { c.paused.Store(true); return nil }
func (c *Capture) Resume() error { c.paused.Store(false); return nil }

func (c *Capture) Close() error {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

func (c *Capture) Frames() <-chan frames.AudioFrame { return c.out }

var _ audio.CaptureSource = (*Capture)(nil)
