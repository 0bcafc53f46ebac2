package asr

import (
	"context"

	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

// Config carries the recognition parameters negotiated at connect time.
type Config struct {
	Model         string
	Language      string
	SampleRate    int
	Channels      int
	Encoding      string
	Diarize       bool
	Punctuate     bool
	SmartFormat   bool
	InterimEvents bool
	UtteranceEnd  int // milliseconds; zero disables utterance-end events
}

// StreamingASR is a live speech recognition connection.
//
// Connect dials the recognizer; SendAudio streams raw PCM to it. Events
// yields transcript frames (interim and final) and system frames for
// socket lifecycle. CloseGraceful tells the recognizer to flush pending
// audio before the connection drops; Close tears down immediately.
//
// A client is single-use: after the events channel closes, Connect a new
// client rather than reusing the old one.
type StreamingASR interface {
	Name() string
	Connect(ctx context.Context, sessionID string) error
	SendAudio(f frames.AudioFrame) error
	Events() <-chan frames.Frame
	CloseGraceful(ctx context.Context) error
	Close() error
}
