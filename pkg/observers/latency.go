package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
)

// LatencyObserver tracks per-session capture-to-commit latency and logs a
// summary when the session ends.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	firstAudio  time.Time
	firstFinal  time.Time
	reconnects  int
	segments    int
	encounterID string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &trace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case metrics.EventAudioFrameSent:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
		}
		if t.encounterID == "" && ev.Tags != nil {
			t.encounterID = ev.Tags["encounter_id"]
		}
	case metrics.EventSegmentCommitted:
		if t.firstFinal.IsZero() {
			t.firstFinal = ev.Time
		}
		t.segments++
	case metrics.EventReconnectAttempt:
		t.reconnects++
	case metrics.EventSessionStopped, metrics.EventSessionError:
		o.logSummaryLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logSummaryLocked(sessionID string, t *trace) {
	o.log.Info("session_latency",
		"session_id", sessionID,
		"encounter_id", t.encounterID,
		"audio_to_first_final_ms", durationMs(t.firstAudio, t.firstFinal),
		"segments", t.segments,
		"reconnects", t.reconnects,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
