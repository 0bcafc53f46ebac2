package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/zaf/resample"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/audio"
	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
)

// Options configures microphone capture.
type Options struct {
	Audio audio.Config
	// DeviceRate is the sample rate the hardware is opened at. When it
	// differs from Audio.SampleRate the stream is resampled before framing.
	DeviceRate int
	Logger     *slog.Logger
	PTS        *frames.PTSGen
}

// Capture reads PCM from the default input device and emits fixed-interval
// audio frames. Frames produced while paused are read from the device and
// thrown away so the hardware buffer never backs up.
type Capture struct {
	opts Options
	log  *slog.Logger
	pts  *frames.PTSGen

	stream    *portaudio.Stream
	out       chan frames.AudioFrame
	sessionID string

	paused  atomic.Bool
	closed  atomic.Bool
	once    sync.Once
	stopped chan struct{}
}

func New(opts Options) *Capture {
	if opts.Audio.FrameInterval <= 0 {
		opts.Audio.FrameInterval = 250
	}
	if opts.Audio.Channels <= 0 {
		opts.Audio.Channels = 1
	}
	if opts.DeviceRate <= 0 {
		opts.DeviceRate = opts.Audio.SampleRate
	}
	if opts.PTS == nil {
		opts.PTS = frames.NewPTSGen()
	}
	return &Capture{
		opts:    opts,
		log:     logging.NewComponentLogger(opts.Logger, "portaudio"),
		pts:     opts.PTS,
		out:     make(chan frames.AudioFrame, 16),
		stopped: make(chan struct{}),
	}
}

func (c *Capture) Name() string { return "portaudio" }

// Open claims the default input device and starts the read loop. The loop
// runs until Close; ctx bounds setup only.
func (c *Capture) Open(ctx context.Context, sessionID string) error {
	if err := portaudio.Initialize(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
	}
	c.sessionID = sessionID

	samplesPerFrame := c.opts.DeviceRate * c.opts.Audio.FrameInterval / 1000
	buf := make([]int16, samplesPerFrame*c.opts.Audio.Channels)

	stream, err := portaudio.OpenDefaultStream(
		c.opts.Audio.Channels, 0, float64(c.opts.DeviceRate), samplesPerFrame, buf)
	if err != nil {
		portaudio.Terminate()
		return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
	}
	c.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return errorsx.Wrap(err, errorsx.ReasonAudioRead)
	}

	c.log.Info("capture started",
		"session_id", sessionID,
		"device_rate", c.opts.DeviceRate,
		"target_rate", c.opts.Audio.SampleRate,
		"frame_ms", c.opts.Audio.FrameInterval)

	go c.readLoop(buf)
	return nil
}

func (c *Capture) readLoop(buf []int16) {
	defer close(c.out)
	defer close(c.stopped)

	var rs *resample.Resampler
	var resampled bytes.Buffer
	if c.opts.DeviceRate != c.opts.Audio.SampleRate {
		var err error
		rs, err = resample.New(&resampled,
			float64(c.opts.DeviceRate), float64(c.opts.Audio.SampleRate),
			c.opts.Audio.Channels, resample.I16, resample.MediumQ)
		if err != nil {
			c.log.Error("resampler init failed", "error", err)
			return
		}
		defer rs.Close()
	}

	raw := make([]byte, len(buf)*2)
	for {
		if c.closed.Load() {
			return
		}
		if err := c.stream.Read(); err != nil {
			if !c.closed.Load() {
				c.log.Error("device read failed", "session_id", c.sessionID, "error", err)
			}
			return
		}
		if c.paused.Load() {
			continue
		}

		for i, s := range buf {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
		}
		payload := raw
		if rs != nil {
			resampled.Reset()
			if _, err := rs.Write(raw); err != nil {
				c.log.Error("resample failed", "session_id", c.sessionID, "error", err)
				return
			}
			payload = resampled.Bytes()
		}

		f := frames.NewAudioFrameFromPool(c.sessionID, c.pts.Next(c.sessionID), payload,
			c.opts.Audio.SampleRate, c.opts.Audio.Channels,
			map[string]string{frames.MetaSource: "portaudio", frames.MetaEncoding: "linear16"})
		select {
		case c.out <- f:
		default:
			frames.ReleaseAudioFrame(f)
		}
	}
}

func (c *Capture) Pause() error {
	c.paused.Store(true)
	return nil
}

func (c *Capture) Resume() error {
	c.paused.Store(false)
	return nil
}

func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		if c.stream != nil {
			err = c.stream.Close()
			<-c.stopped
		}
		portaudio.Terminate()
	})
	return err
}

func (c *Capture) Frames() <-chan frames.AudioFrame { return c.out }

var _ audio.CaptureSource = (*Capture)(nil)
