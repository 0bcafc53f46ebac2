package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
	"github.com/itsmartinwho/foresight-scribe/pkg/metrics"
	"github.com/itsmartinwho/foresight-scribe/pkg/resilience"
)

const (
	defaultDebounce    = time.Second
	defaultSaveTimeout = 10 * time.Second
)

// GatewayOptions configures the debounced writer.
type GatewayOptions struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	Breaker     *resilience.CircuitBreaker
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Gateway coalesces transcript updates into debounced writes against the
// encounter store.
//
// MarkDirty arms a debounce timer; updates arriving while a write is in
// flight are coalesced into the next one rather than racing it. Flush
// bypasses the debounce and blocks until the text is durable; it is the
// stop path's only save mechanism. A failed write keeps the buffer dirty
// so a later update or flush retries it.
type Gateway struct {
	store       EncounterStore
	encounterID string
	opts        GatewayOptions
	log         *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   string
	lastSaved string
	dirty     bool
	saving    bool
	closed    bool
	timer     *time.Timer
}

func NewGateway(store EncounterStore, encounterID string, opts GatewayOptions) *Gateway {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	g := &Gateway{
		store:       store,
		encounterID: encounterID,
		opts:        opts,
		log:         logging.NewComponentLogger(opts.Logger, "persist"),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// MarkDirty records the latest rendered transcript and schedules a
// debounced save.
func (g *Gateway) MarkDirty(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.pending = text
	g.dirty = true
	if g.saving {
		g.record(metrics.EventSaveCoalesced, 0)
		return
	}
	g.armTimerLocked()
}

func (g *Gateway) armTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.opts.Debounce, g.debouncedSave)
}

func (g *Gateway) debouncedSave() {
	g.mu.Lock()
	if g.closed || g.saving || !g.dirty {
		g.mu.Unlock()
		return
	}
	text := g.pending
	if text == g.lastSaved {
		g.dirty = false
		g.mu.Unlock()
		return
	}
	g.saving = true
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.SaveTimeout)
	err := g.write(ctx, text)
	cancel()

	g.mu.Lock()
	g.saving = false
	if err == nil {
		g.lastSaved = text
		if g.pending == text {
			g.dirty = false
		}
	}
	if g.dirty && !g.closed {
		g.armTimerLocked()
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Flush writes text synchronously, waiting out any in-flight debounced
// save first. An unchanged buffer produces no network write.
func (g *Gateway) Flush(ctx context.Context, text string) error {
	g.mu.Lock()
	for g.saving {
		g.cond.Wait()
	}
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	if text == "" {
		text = g.pending
	}
	if text == g.lastSaved {
		g.dirty = false
		g.mu.Unlock()
		return nil
	}
	g.saving = true
	g.mu.Unlock()

	err := g.write(ctx, text)

	g.mu.Lock()
	g.saving = false
	if err == nil {
		g.lastSaved = text
		g.pending = text
		g.dirty = false
	}
	g.cond.Broadcast()
	g.mu.Unlock()
	return err
}

func (g *Gateway) write(ctx context.Context, text string) error {
	if g.opts.Breaker != nil && !g.opts.Breaker.Allow() {
		g.record(metrics.EventSaveFailed, 0)
		return errorsx.New("encounter store circuit open", errorsx.ReasonSaveFailed)
	}
	start := time.Now()
	err := g.store.SaveTranscript(ctx, g.encounterID, text)
	if err != nil {
		if g.opts.Breaker != nil {
			g.opts.Breaker.OnError(err)
		}
		g.record(metrics.EventSaveFailed, 0)
		g.log.Warn("transcript save failed", "encounter_id", g.encounterID, "error", err)
		return errorsx.Wrap(err, errorsx.ReasonSaveFailed)
	}
	if g.opts.Breaker != nil {
		g.opts.Breaker.OnSuccess()
	}
	g.record(metrics.EventSaveOK, time.Since(start).Seconds())
	return nil
}

// Snapshot reports what has reached the store versus what is buffered.
func (g *Gateway) Snapshot() (lastSaved string, dirty, saving bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSaved, g.dirty, g.saving
}

// Close cancels pending debounced work. It does not flush.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
}

func (g *Gateway) record(name string, value float64) {
	g.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{"encounter_id": g.encounterID},
	})
}
