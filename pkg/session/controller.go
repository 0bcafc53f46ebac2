package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/asr"
	"github.com/itsmartinwho/foresight-scribe/pkg/adapters/audio"
	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
	"github.com/itsmartinwho/foresight-scribe/pkg/persist"
	"github.com/itsmartinwho/foresight-scribe/pkg/resilience"
	"github.com/itsmartinwho/foresight-scribe/pkg/transcript"
)

const eventQueueSize = 256

// Callbacks deliver session output to the embedding surface.
type Callbacks struct {
	// OnTranscriptChanged fires after every committed append with the full
	// rendered transcript.
	OnTranscriptChanged func(text string)
	// OnPreview fires on interim results with the committed transcript plus
	// the provisional tail. Preview text is never persisted.
	OnPreview func(text string)
	OnStateChanged func(state State)
}

// Options assembles a session's collaborators.
type Options struct {
	SessionID   string
	EncounterID string

	Capture audio.CaptureSource
	// NewASR builds a fresh recognizer connection; clients are single-use
	// so reconnection constructs a new one.
	NewASR func() asr.StreamingASR

	Gateway   *persist.Gateway
	Publisher *persist.KafkaPublisher
	Backoff   resilience.BackoffPolicy
	Observer  metrics.Observer
	Logger    *slog.Logger
	Callbacks Callbacks
}

type eventKind int

const (
	evAudio eventKind = iota
	evASR
	evCaptureEnded
	evReconnect
	evPause
	evResume
	evStop
)

type event struct {
	kind    eventKind
	gen     int
	audio   frames.AudioFrame
	frame   frames.Frame
	attempt int
	ctx     context.Context
	reply   chan error
}

// Controller owns one capture source, one recognizer connection, and one
// transcript per session, and runs the lifecycle state machine.
//
// All socket, audio, timer, and command activity is funneled through a
// single event loop, so no two transitions ever interleave. Recognizer
// connections are generation-tagged: events from a connection that has
// been replaced are discarded instead of corrupting the current one.
type Controller struct {
	opts      Options
	log       *slog.Logger
	machine   *Machine
	assembler *transcript.Assembler

	events   chan event
	loopDone chan struct{}

	mu      sync.Mutex
	started bool

	// loop-owned, never touched outside run()
	client asr.StreamingASR
	gen    int
}

func NewController(opts Options) *Controller {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = resilience.NewBackoffPolicy(0, 0, 0)
	}
	c := &Controller{
		opts:      opts,
		assembler: transcript.NewAssembler(),
		events:    make(chan event, eventQueueSize),
		loopDone:  make(chan struct{}),
	}
	c.log = logging.NewComponentLogger(opts.Logger, "session").With(
		"session_id", opts.SessionID, "encounter_id", opts.EncounterID)
	c.machine = NewMachine(c.stateChanged)
	return c
}

func (c *Controller) SessionID() string { return c.opts.SessionID }
func (c *Controller) State() State      { return c.machine.State() }

// Transcript returns the committed text only.
func (c *Controller) Transcript() string { return c.assembler.Final() }

// Preview returns the committed text plus any interim tail.
func (c *Controller) Preview() string { return c.assembler.Preview() }

// Start acquires the microphone, opens the recognizer connection, and
// begins streaming. Calling Start on a session that is already live is a
// logged no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.log.Info("start ignored, session already active", "state", c.machine.State())
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.machine.To(StateConnecting); err != nil {
		return err
	}

	if err := c.opts.Capture.Open(ctx, c.opts.SessionID); err != nil {
		c.failStart(errorsx.Wrap(err, errorsx.ReasonPermissionDenied))
		return errorsx.Wrap(err, errorsx.ReasonPermissionDenied)
	}

	client := c.opts.NewASR()
	if err := client.Connect(ctx, c.opts.SessionID); err != nil {
		c.opts.Capture.Close()
		c.failStart(errorsx.Wrap(err, errorsx.ReasonASRConnect))
		return errorsx.Wrap(err, errorsx.ReasonASRConnect)
	}
	c.client = client
	c.gen = 1

	if err := c.machine.To(StateStreaming); err != nil {
		return err
	}
	c.record(metrics.EventSessionStarted, 0)

	go c.run()
	go c.audioPump()
	go c.asrPump(client, c.gen)
	return nil
}

func (c *Controller) failStart(err error) {
	c.machine.To(StateError)
	c.record(metrics.EventSessionError, 0)
	c.log.Error("session start failed", "error", err, "reason", errorsx.Reason(err))
	close(c.loopDone)
}

// Pause suspends frame emission. The socket and its keepalive stay up.
func (c *Controller) Pause() error {
	return c.command(context.Background(), evPause)
}

// Resume re-enables frame emission after a pause.
func (c *Controller) Resume() error {
	return c.command(context.Background(), evResume)
}

// StopAndSave tears the session down and synchronously flushes the
// transcript. It is idempotent: stopping a stopped session is a no-op.
func (c *Controller) StopAndSave(ctx context.Context) error {
	return c.command(ctx, evStop)
}

func (c *Controller) command(ctx context.Context, kind eventKind) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return c.terminalCommand(kind)
	}
	reply := make(chan error, 1)
	select {
	case <-c.loopDone:
		return c.terminalCommand(kind)
	case c.events <- event{kind: kind, ctx: ctx, reply: reply}:
	}
	select {
	case err := <-reply:
		return err
	case <-c.loopDone:
		return c.terminalCommand(kind)
	}
}

func (c *Controller) terminalCommand(kind eventKind) error {
	if kind == evStop {
		return nil
	}
	return errorsx.New("session is not active", errorsx.ReasonSessionStopped)
}

func (c *Controller) audioPump() {
	for f := range c.opts.Capture.Frames() {
		select {
		case c.events <- event{kind: evAudio, audio: f}:
		case <-c.loopDone:
			frames.ReleaseAudioFrame(f)
			return
		}
	}
	select {
	case c.events <- event{kind: evCaptureEnded}:
	case <-c.loopDone:
	}
}

func (c *Controller) asrPump(client asr.StreamingASR, gen int) {
	for f := range client.Events() {
		select {
		case c.events <- event{kind: evASR, gen: gen, frame: f}:
		case <-c.loopDone:
			return
		}
	}
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for ev := range c.events {
		switch ev.kind {
		case evAudio:
			c.handleAudio(ev.audio)
		case evASR:
			if done := c.handleASRFrame(ev); done {
				return
			}
		case evCaptureEnded:
			if c.machine.Is(StateStreaming, StatePaused, StateReconnecting) {
				c.fail(errorsx.New("audio capture ended unexpectedly", errorsx.ReasonAudioRead))
				return
			}
		case evReconnect:
			if done := c.handleReconnect(ev.attempt); done {
				return
			}
		case evPause:
			ev.reply <- c.handlePause()
		case evResume:
			ev.reply <- c.handleResume()
		case evStop:
			ev.reply <- c.handleStop(ev.ctx)
			return
		}
	}
}

func (c *Controller) handleAudio(f frames.AudioFrame) {
	defer frames.ReleaseAudioFrame(f)
	if c.machine.State() != StateStreaming {
		// paused or reconnecting: discard, never queue for replay
		return
	}
	if err := c.client.SendAudio(f); err != nil {
		// the close event from the read side drives recovery
		c.log.Debug("audio send failed", "error", err)
		return
	}
	c.record(metrics.EventAudioFrameSent, float64(len(f.RawPayload())))
}

// handleASRFrame returns true when the frame ended the session and the
// loop must exit.
func (c *Controller) handleASRFrame(ev event) bool {
	if ev.gen != c.gen {
		return false
	}
	switch f := ev.frame.(type) {
	case frames.TranscriptFrame:
		c.handleTranscript(f)
	case frames.SystemFrame:
		if f.Name() == frames.SystemSocketClosed {
			return c.handleSocketClosed(f)
		}
	}
	return false
}

func (c *Controller) handleTranscript(f frames.TranscriptFrame) {
	committed, chars := c.assembler.Ingest(f)
	if !f.Final() {
		c.record(metrics.EventInterimReceived, 0)
		if c.opts.Callbacks.OnPreview != nil {
			c.opts.Callbacks.OnPreview(c.assembler.Preview())
		}
		return
	}
	if !committed {
		return
	}
	rendered := c.assembler.Final()
	c.opts.Gateway.MarkDirty(rendered)
	c.record(metrics.EventSegmentCommitted, float64(chars))
	if c.opts.Callbacks.OnTranscriptChanged != nil {
		c.opts.Callbacks.OnTranscriptChanged(rendered)
	}
	c.publishSegment(f)
}

func (c *Controller) handleSocketClosed(f frames.SystemFrame) bool {
	code, _ := strconv.Atoi(f.Meta()[frames.MetaCloseCode])
	c.record(metrics.EventSocketClosed, float64(code))

	if !c.machine.Is(StateStreaming, StatePaused) {
		return false
	}
	if isCleanClose(code) {
		// service finished on its own terms; keep what we have
		c.log.Info("recognizer closed cleanly mid-session", "code", code)
		c.finalize(context.Background())
		return true
	}

	c.log.Warn("abnormal socket closure", "code", code, "reason", f.Meta()[frames.MetaCloseReason])
	if err := c.machine.To(StateReconnecting); err != nil {
		return false
	}
	c.client.Close()
	c.scheduleReconnect(1)
	return false
}

func (c *Controller) scheduleReconnect(attempt int) {
	delay := c.opts.Backoff.Delay(attempt)
	c.log.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	time.AfterFunc(delay, func() {
		select {
		case c.events <- event{kind: evReconnect, attempt: attempt}:
		case <-c.loopDone:
		}
	})
}

// handleReconnect returns true when the loop must exit (terminal error).
func (c *Controller) handleReconnect(attempt int) bool {
	if c.machine.State() != StateReconnecting {
		return false
	}
	if c.opts.Backoff.Exhausted(attempt) {
		c.fail(errorsx.New("reconnect attempts exhausted", errorsx.ReasonReconnectExhausted))
		return true
	}
	c.record(metrics.EventReconnectAttempt, float64(attempt))

	client := c.opts.NewASR()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := client.Connect(ctx, c.opts.SessionID)
	cancel()
	if err != nil {
		c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
		client.Close()
		if c.opts.Backoff.Exhausted(attempt + 1) {
			c.fail(errorsx.Wrap(err, errorsx.ReasonReconnectExhausted))
			return true
		}
		c.scheduleReconnect(attempt + 1)
		return false
	}

	c.client = client
	c.gen++
	go c.asrPump(client, c.gen)
	if err := c.machine.To(StateStreaming); err != nil {
		return false
	}
	c.record(metrics.EventReconnectOK, float64(attempt))
	c.log.Info("reconnected", "attempt", attempt)
	return false
}

func (c *Controller) handlePause() error {
	if c.machine.State() != StateStreaming {
		return errorsx.New("pause requires a streaming session", errorsx.ReasonSessionStopped)
	}
	if err := c.opts.Capture.Pause(); err != nil {
		return err
	}
	return c.machine.To(StatePaused)
}

func (c *Controller) handleResume() error {
	if c.machine.State() != StatePaused {
		return errorsx.New("resume requires a paused session", errorsx.ReasonSessionStopped)
	}
	if err := c.opts.Capture.Resume(); err != nil {
		return err
	}
	return c.machine.To(StateStreaming)
}

func (c *Controller) handleStop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.opts.Capture.Close()
	if c.client != nil {
		// let the recognizer flush buffered audio into trailing finals
		c.client.CloseGraceful(ctx)
		c.drainTrailingFinals()
	}
	return c.finalizeErr(ctx)
}

// drainTrailingFinals consumes recognition events still in flight so finals
// emitted during graceful close make it into the saved transcript. It stops
// after a short quiet period.
func (c *Controller) drainTrailingFinals() {
	quiet := time.NewTimer(50 * time.Millisecond)
	defer quiet.Stop()
	for {
		select {
		case ev := <-c.events:
			switch {
			case ev.kind == evASR && ev.gen == c.gen:
				if tf, ok := ev.frame.(frames.TranscriptFrame); ok && tf.Final() {
					c.handleTranscript(tf)
				}
			case ev.kind == evAudio:
				frames.ReleaseAudioFrame(ev.audio)
			}
			if ev.reply != nil {
				ev.reply <- c.terminalCommand(ev.kind)
			}
			quiet.Reset(50 * time.Millisecond)
		case <-quiet.C:
			return
		}
	}
}

func (c *Controller) finalize(ctx context.Context) {
	c.opts.Capture.Close()
	c.finalizeErr(ctx)
}

func (c *Controller) finalizeErr(ctx context.Context) error {
	if err := c.machine.To(StateStopped); err != nil {
		return nil
	}
	flushErr := c.opts.Gateway.Flush(ctx, c.assembler.Final())
	c.opts.Gateway.Close()
	c.record(metrics.EventSessionStopped, 0)
	c.publishState(string(StateStopped))
	c.log.Info("session stopped", "segments", len(c.assembler.Segments()))
	return flushErr
}

// fail moves the session to the terminal error state and releases every
// handle. The transcript stays in memory; no flush is attempted here.
func (c *Controller) fail(err error) {
	c.log.Error("session failed", "error", err, "reason", errorsx.Reason(err))
	c.opts.Capture.Close()
	if c.client != nil {
		c.client.Close()
	}
	c.opts.Gateway.Close()
	c.machine.To(StateError)
	c.record(metrics.EventSessionError, 0)
	c.publishState(string(StateError))
}

func (c *Controller) stateChanged(s State) {
	if c.opts.Callbacks.OnStateChanged != nil {
		c.opts.Callbacks.OnStateChanged(s)
	}
}

func (c *Controller) publishSegment(f frames.TranscriptFrame) {
	if c.opts.Publisher == nil {
		return
	}
	ev := persist.TranscriptEvent{
		EncounterID: c.opts.EncounterID,
		SessionID:   c.opts.SessionID,
		Type:        persist.EventTypeSegment,
		Text:        f.Text(),
	}
	if sp, ok := f.Speaker(); ok {
		ev.Speaker = &sp
	}
	c.opts.Publisher.Publish(context.Background(), ev)
}

func (c *Controller) publishState(state string) {
	if c.opts.Publisher == nil {
		return
	}
	c.opts.Publisher.Publish(context.Background(), persist.TranscriptEvent{
		EncounterID: c.opts.EncounterID,
		SessionID:   c.opts.SessionID,
		Type:        persist.EventTypeState,
		State:       state,
	})
}

func (c *Controller) record(name string, value float64) {
	c.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags: map[string]string{
			"session_id":   c.opts.SessionID,
			"encounter_id": c.opts.EncounterID,
		},
	})
}

func isCleanClose(code int) bool {
	return code == 1000 || code == 1001
}
