package scribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsmartinwho/foresight-scribe/pkg/config"
	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
	"github.com/itsmartinwho/foresight-scribe/pkg/persist"
	"github.com/itsmartinwho/foresight-scribe/pkg/resilience"
	"github.com/itsmartinwho/foresight-scribe/pkg/session"
)

// EngineOptions overrides collaborators that are otherwise built from
// configuration. Tests inject stores and observers here.
type EngineOptions struct {
	Store     persist.EncounterStore
	Observer  metrics.Observer
	Registry  *Registry
	Publisher *persist.KafkaPublisher
	Logger    *slog.Logger
}

// Engine manages transcription sessions, enforcing one active session per
// encounter. Starting a session for an encounter that already has a live
// one returns the existing handle.
type Engine struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *Registry
	store     persist.EncounterStore
	observer  metrics.Observer
	publisher *persist.KafkaPublisher

	mu     sync.Mutex
	active map[string]*session.Controller
}

func NewEngine(cfg *config.Config, opts EngineOptions) *Engine {
	if opts.Registry == nil {
		opts.Registry = NewDefaultRegistry()
	}
	if opts.Store == nil {
		opts.Store = persist.NewHTTPStore(cfg.Persist.BaseURL, cfg.Persist.Token,
			resilience.NewRetryPolicy(cfg.Persist.RetryMax, time.Duration(cfg.Persist.RetryBackoffMs)*time.Millisecond))
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	return &Engine{
		cfg:       cfg,
		log:       logging.NewComponentLogger(opts.Logger, "engine"),
		registry:  opts.Registry,
		store:     opts.Store,
		observer:  opts.Observer,
		publisher: opts.Publisher,
		active:    make(map[string]*session.Controller),
	}
}

// StartSession begins capturing and transcribing for an encounter.
func (e *Engine) StartSession(ctx context.Context, encounterID string, cb session.Callbacks) (*session.Controller, error) {
	if encounterID == "" {
		return nil, errorsx.New("encounter id is required", errorsx.ReasonUnknown)
	}

	e.mu.Lock()
	if existing, ok := e.active[encounterID]; ok {
		e.mu.Unlock()
		e.log.Info("session already active for encounter", "encounter_id", encounterID)
		return existing, nil
	}
	e.mu.Unlock()

	capture, err := e.registry.BuildCapture(e.cfg, e.log)
	if err != nil {
		return nil, err
	}
	newASR, err := e.registry.ASRBuilder(e.cfg, e.log)
	if err != nil {
		return nil, err
	}

	gateway := persist.NewGateway(e.store, encounterID, persist.GatewayOptions{
		Debounce:    e.cfg.DebounceDuration(),
		SaveTimeout: e.cfg.SaveTimeout(),
		Breaker: resilience.NewCircuitBreaker(e.cfg.Persist.BreakerThreshold,
			time.Duration(e.cfg.Persist.BreakerCooldownMs)*time.Millisecond),
		Observer: e.observer,
		Logger:   e.log,
	})

	ctrl := session.NewController(session.Options{
		SessionID:   uuid.NewString(),
		EncounterID: encounterID,
		Capture:     capture,
		NewASR:      newASR,
		Gateway:     gateway,
		Publisher:   e.publisher,
		Backoff: resilience.NewBackoffPolicy(e.cfg.Reconnect.MaxAttempts,
			time.Duration(e.cfg.Reconnect.BaseDelayMs)*time.Millisecond,
			time.Duration(e.cfg.Reconnect.MaxDelayMs)*time.Millisecond),
		Observer:  e.observer,
		Logger:    e.log,
		Callbacks: e.wrapCallbacks(encounterID, cb),
	})

	e.mu.Lock()
	if existing, ok := e.active[encounterID]; ok {
		// lost the race to another caller
		e.mu.Unlock()
		return existing, nil
	}
	e.active[encounterID] = ctrl
	e.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		e.release(encounterID)
		return nil, err
	}
	e.log.Info("session started", "encounter_id", encounterID, "session_id", ctrl.SessionID())
	return ctrl, nil
}

// wrapCallbacks releases the encounter slot when the session reaches a
// terminal state, so a new session can start afterwards.
func (e *Engine) wrapCallbacks(encounterID string, cb session.Callbacks) session.Callbacks {
	userStateCB := cb.OnStateChanged
	cb.OnStateChanged = func(s session.State) {
		if s == session.StateStopped || s == session.StateError {
			e.release(encounterID)
		}
		if userStateCB != nil {
			userStateCB(s)
		}
	}
	return cb
}

func (e *Engine) release(encounterID string) {
	e.mu.Lock()
	delete(e.active, encounterID)
	e.mu.Unlock()
}

// Session returns the live controller for an encounter, if any.
func (e *Engine) Session(encounterID string) (*session.Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctrl, ok := e.active[encounterID]
	return ctrl, ok
}

// StopSession stops and saves the encounter's active session. Stopping an
// encounter with no active session is a no-op.
func (e *Engine) StopSession(ctx context.Context, encounterID string) error {
	ctrl, ok := e.Session(encounterID)
	if !ok {
		return nil
	}
	return ctrl.StopAndSave(ctx)
}

// Close stops every active session, flushing each transcript.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	ctrls := make([]*session.Controller, 0, len(e.active))
	for _, c := range e.active {
		ctrls = append(ctrls, c)
	}
	e.mu.Unlock()

	var firstErr error
	for _, c := range ctrls {
		if err := c.StopAndSave(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.publisher != nil {
		e.publisher.Close()
	}
	return firstErr
}
