package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names recorded across a transcription session.
const (
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
	EventSessionError     = "session_error"
	EventAudioFrameSent   = "audio_frame_sent"
	EventSegmentCommitted = "segment_committed"
	EventInterimReceived  = "interim_received"
	EventSocketClosed     = "socket_closed"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectOK      = "reconnect_ok"
	EventSaveOK           = "save_ok"
	EventSaveFailed       = "save_failed"
	EventSaveCoalesced    = "save_coalesced"
)
