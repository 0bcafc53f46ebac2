package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	asradapter "github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/audio"
	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
	"github.com/itsmartinwho/foresight-scribe/pkg/persist"
	"github.com/itsmartinwho/foresight-scribe/pkg/providers/mock"
	"github.com/itsmartinwho/foresight-scribe/pkg/resilience"
)

type memStore struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (s *memStore) SaveTranscript(ctx context.Context, encounterID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, text)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *memStore) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return ""
	}
	return s.writes[len(s.writes)-1]
}

type asrFactory struct {
	mu          sync.Mutex
	scripts     [][]mock.ScriptStep
	connectErrs []error
	built       int
}

func (f *asrFactory) build() asradapter.StreamingASR {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.built
	f.built++
	var script []mock.ScriptStep
	if i < len(f.scripts) {
		script = f.scripts[i]
	}
	m := mock.NewASR(script)
	if i < len(f.connectErrs) {
		m.ConnectErr = f.connectErrs[i]
	}
	return m
}

func (f *asrFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

type harness struct {
	ctrl    *Controller
	store   *memStore
	factory *asrFactory
	obs     *metrics.MemoryObserver
}

func newHarness(t *testing.T, factory *asrFactory, backoff resilience.BackoffPolicy) *harness {
	t.Helper()
	store := &memStore{}
	obs := metrics.NewMemoryObserver()
	gateway := persist.NewGateway(store, "enc-1", persist.GatewayOptions{Debounce: time.Hour})
	capture := mock.NewCapture(audio.Config{SampleRate: 16000, Channels: 1, FrameInterval: 5})
	ctrl := NewController(Options{
		SessionID:   "s-test",
		EncounterID: "enc-1",
		Capture:     capture,
		NewASR:      factory.build,
		Gateway:     gateway,
		Backoff:     backoff,
		Observer:    obs,
	})
	return &harness{ctrl: ctrl, store: store, factory: factory, obs: obs}
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func defaultBackoff() resilience.BackoffPolicy {
	return resilience.BackoffPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
}

func TestStartStreamStopAndSave(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{{
		{Text: "hello th", Speaker: 0, HasSpeaker: true, Final: false, AfterFrames: 1},
		{Text: "hello there", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 2},
		{Text: "how are you", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 4},
		{Text: "fine thanks", Speaker: 1, HasSpeaker: true, Final: true, AfterFrames: 6},
	}}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	want := "Speaker 0: hello there how are you\nSpeaker 1: fine thanks"
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() == want }, "full transcript")

	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.ctrl.State() != StateStopped {
		t.Fatalf("state %s", h.ctrl.State())
	}
	if got := h.store.last(); got != want {
		t.Fatalf("persisted %q, want %q", got, want)
	}
	if n := h.store.count(); n != 1 {
		t.Fatalf("want one flush write, got %d", n)
	}
}

func TestCancelledStartContextDoesNotEndSession(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{{
		{Text: "hello there", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 1},
		{Text: "still listening", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 20},
	}}}
	h := newHarness(t, factory, defaultBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() != "" }, "first segment")

	// interrupt-driven teardown cancels the start context before stopping;
	// the capture stream must outlive it so the flush still sees every final
	cancel()
	want := "Speaker 0: hello there still listening"
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() == want }, "post-cancel segment")
	if h.ctrl.State() != StateStreaming {
		t.Fatalf("state %s", h.ctrl.State())
	}

	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.ctrl.State() != StateStopped {
		t.Fatalf("state %s", h.ctrl.State())
	}
	if got := h.store.last(); got != want {
		t.Fatalf("persisted %q, want %q", got, want)
	}
}

func TestStartIsReentrantNoOp(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{nil}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second start must be a no-op, got %v", err)
	}
	if n := factory.count(); n != 1 {
		t.Fatalf("second start opened a new connection: %d", n)
	}
	h.ctrl.StopAndSave(context.Background())
}

func TestPauseResumeLeavesBufferUntouched(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{{
		{Text: "opening remarks", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 1},
		{Text: "after the break", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 30},
	}}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() != "" }, "first segment")

	if err := h.ctrl.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if h.ctrl.State() != StatePaused {
		t.Fatalf("state %s", h.ctrl.State())
	}
	snapshot := h.ctrl.Transcript()
	time.Sleep(100 * time.Millisecond)
	if got := h.ctrl.Transcript(); got != snapshot {
		t.Fatalf("buffer changed while paused: %q vs %q", got, snapshot)
	}

	if err := h.ctrl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.ctrl.State() != StateStreaming {
		t.Fatalf("state %s", h.ctrl.State())
	}
	want := "Speaker 0: opening remarks after the break"
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() == want }, "post-resume segment")
	h.ctrl.StopAndSave(context.Background())
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{{
		{Text: "all done", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 1},
		{CloseCode: 1000, AfterFrames: 2},
	}}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.State() == StateStopped }, "clean close finalize")

	if n := factory.count(); n != 1 {
		t.Fatalf("clean close must not reconnect, got %d connections", n)
	}
	if n := len(h.obs.Named(metrics.EventReconnectAttempt)); n != 0 {
		t.Fatalf("reconnect attempted after clean close: %d", n)
	}
	if got := h.store.last(); got != "Speaker 0: all done" {
		t.Fatalf("persisted %q", got)
	}
}

func TestAbnormalCloseReconnectsOnce(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{
		{
			{Text: "hello there", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 1},
			{CloseCode: 1006, AfterFrames: 2},
		},
		{
			{Text: "fine thanks", Speaker: 1, HasSpeaker: true, Final: true, AfterFrames: 1},
		},
	}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	want := "Speaker 0: hello there\nSpeaker 1: fine thanks"
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() == want }, "post-reconnect transcript")

	if h.ctrl.State() != StateStreaming {
		t.Fatalf("state %s", h.ctrl.State())
	}
	if n := factory.count(); n != 2 {
		t.Fatalf("want exactly one reconnect, got %d connections", n)
	}
	if n := len(h.obs.Named(metrics.EventReconnectAttempt)); n != 1 {
		t.Fatalf("want exactly one reconnect attempt, got %d", n)
	}
	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := h.store.last(); got != want {
		t.Fatalf("persisted %q, want %q", got, want)
	}
}

func TestReconnectExhaustionEndsInError(t *testing.T) {
	connectErr := errors.New("service unavailable")
	factory := &asrFactory{
		scripts:     [][]mock.ScriptStep{{{CloseCode: 1006, AfterFrames: 1}}},
		connectErrs: []error{nil, connectErr, connectErr, connectErr, connectErr},
	}
	h := newHarness(t, factory, resilience.BackoffPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond})

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.State() == StateError }, "terminal error state")

	if n := h.store.count(); n != 0 {
		t.Fatalf("error path must not flush, got %d writes", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	factory := &asrFactory{scripts: [][]mock.ScriptStep{{
		{Text: "short visit", Speaker: 0, HasSpeaker: true, Final: true, AfterFrames: 1},
	}}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.ctrl.Transcript() != "" }, "segment")

	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
	if n := h.store.count(); n != 1 {
		t.Fatalf("want one write, got %d", n)
	}
}

func TestCommandsBeforeStart(t *testing.T) {
	factory := &asrFactory{}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Pause(); err == nil {
		t.Fatal("pause before start must fail")
	}
	if err := h.ctrl.StopAndSave(context.Background()); err != nil {
		t.Fatalf("stop before start is a no-op, got %v", err)
	}
}

func TestStartFailureReleasesAudio(t *testing.T) {
	connectErr := errors.New("bad handshake")
	factory := &asrFactory{connectErrs: []error{connectErr}}
	h := newHarness(t, factory, defaultBackoff())

	if err := h.ctrl.Start(context.Background()); err == nil {
		t.Fatal("want start error")
	}
	if h.ctrl.State() != StateError {
		t.Fatalf("state %s", h.ctrl.State())
	}
}
