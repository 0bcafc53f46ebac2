package audio

import (
	"context"

	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

// Config describes the capture format a source should produce.
type Config struct {
	SampleRate    int
	Channels      int
	FrameInterval int // milliseconds of audio per emitted frame
	Device        string
}

// CaptureSource produces a stream of PCM audio frames from a device.
//
// Open starts capture and begins delivering frames on Frames. Its context
// bounds setup only: a started source keeps delivering frames after that
// context is cancelled, and stops only on Close or device loss. Pause keeps
// the device open but stops frame delivery; frames arriving while paused
// are discarded, not buffered. Close stops capture and closes the frame
// channel.
type CaptureSource interface {
	Name() string
	Open(ctx context.Context, sessionID string) error
	Pause() error
	Resume() error
	Close() error
	Frames() <-chan frames.AudioFrame
}
