package cdr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Backend receives finalized public records. Implementations must not block
// the caller for long: with Batch enabled the engine delivers through the
// batch queue (C7), otherwise Post runs on the goroutine that finalized the
// chain.
type Backend interface {
	Name() string
	Post(records []PublicRecord) error
}

// LifecycleFunc is invoked for observational purposes only (C11's live
// dashboard feed) on state-machine milestones. It is called synchronously on
// the dispatching goroutine, often while the record's chain lock is held, so
// it must never call back into the Engine or mutate engine state.
type LifecycleFunc func(event string, rec *CdrObject)

// Engine is the top-level process-wide value: the two indexes, the sequence
// counter, the backend list, and the config are all fields here so that two
// Engine instances in the same process (two tests, or two engines in one
// binary) never share state. Tests construct one fresh Engine per test.
type Engine struct {
	cfg Config
	log zerolog.Logger

	channels *channelIndex
	bridges  *bridgeIndex

	seq atomic.Uint32

	backendsMu sync.RWMutex
	backends   map[string]Backend

	queue *BatchQueue

	clock func() time.Time

	onLifecycle LifecycleFunc
}

// NewEngine constructs an Engine with fresh indexes and the given config.
func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "cdr.engine").Logger(),
		channels: newChannelIndex(),
		bridges:  newBridgeIndex(),
		backends: make(map[string]Backend),
		clock:    time.Now,
	}
	e.queue = NewBatchQueue(e, cfg.BatchSize, time.Duration(cfg.BatchTime)*time.Second, cfg.SchedulerOnly)
	return e
}

// SetClock overrides the time source; tests use this for deterministic
// timestamps instead of wall-clock time.Now.
func (e *Engine) SetClock(fn func() time.Time) {
	e.clock = fn
}

// SetLifecycleFunc installs the observational hook used by the operator
// surface (C11). Passing nil disables it.
func (e *Engine) SetLifecycleFunc(fn LifecycleFunc) {
	e.onLifecycle = fn
}

func (e *Engine) emit(event string, rec *CdrObject) {
	if e.onLifecycle != nil {
		e.onLifecycle(event, rec)
	}
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// nextSequence issues the next monotonically increasing record sequence
// number for this engine.
func (e *Engine) nextSequence() uint32 {
	return e.seq.Add(1)
}

// RegisterBackend adds (or replaces) a named backend sink.
func (e *Engine) RegisterBackend(b Backend) {
	e.backendsMu.Lock()
	defer e.backendsMu.Unlock()
	e.backends[b.Name()] = b
	e.log.Info().Str("backend", b.Name()).Msg("backend registered")
}

// UnregisterBackend removes a named backend sink.
func (e *Engine) UnregisterBackend(name string) {
	e.backendsMu.Lock()
	defer e.backendsMu.Unlock()
	delete(e.backends, name)
	e.log.Info().Str("backend", name).Msg("backend unregistered")
}

func (e *Engine) backendList() []Backend {
	e.backendsMu.RLock()
	defer e.backendsMu.RUnlock()
	out := make([]Backend, 0, len(e.backends))
	for _, b := range e.backends {
		out = append(out, b)
	}
	return out
}

// Shutdown finalizes and dispatches every remaining chain, then flushes the
// batch queue if SafeShutdown is enabled. This mirrors the original engine's
// cooperative shutdown sweep.
func (e *Engine) Shutdown() {
	for _, head := range e.channels.allHeads() {
		e.finalizeAndDispatchChain(head)
	}

	if e.cfg.SafeShutdown {
		e.queue.Flush()
	} else if n := e.queue.Depth(); n > 0 {
		e.log.Warn().Int("count", n).Msg("safe shutdown disabled; dropping queued records")
	}
	e.queue.Stop()
}

// finalizeAndDispatchChain finalizes every record in head's chain, removes
// the chain from both indexes, builds public records, and hands them to
// either the batch queue or a direct post depending on config.
func (e *Engine) finalizeAndDispatchChain(head *CdrObject) {
	c := head.chain
	now := e.now()

	var pending []bridgeRemoval
	c.mu.Lock()
	for r := c.head; r != nil; r = r.next {
		if r.State != StateFinalized {
			e.finalizeRecord(r, now)
			e.transition(r, StateFinalized, now)
		}
		if r.Bridge != "" {
			bridgeID := r.Bridge
			r.Bridge = ""
			noteBridgeRemoval(&pending, r, bridgeID)
		}
	}
	records := c.records()
	c.mu.Unlock()
	e.flushBridgeRemovals(pending)

	e.channels.remove(head.Name)

	if !e.cfg.Enable {
		return
	}

	public := buildPublicRecords(records, e.cfg, now)
	if len(public) == 0 {
		return
	}
	e.emit("dispatch", head)
	if e.cfg.Batch {
		e.queue.Enqueue(public)
	} else {
		e.postDirect(public)
	}
}

// postDirect applies the sink-posting-time filters and hands the surviving
// records to every registered backend.
func (e *Engine) postDirect(records []PublicRecord) {
	filtered := filterForPosting(records, e.cfg)
	if len(filtered) == 0 {
		return
	}
	for _, b := range e.backendList() {
		if err := b.Post(filtered); err != nil {
			e.log.Error().Err(err).Str("backend", b.Name()).Int("count", len(filtered)).Msg("backend post failed")
		}
	}
	e.emit("batch_flush", nil)
}

// Stats is a point-in-time snapshot used by the operator surface (C11).
type Stats struct {
	ActiveChannels int
	BridgeKeys     int
	BatchDepth     int
	Backends       []string
}

// Stats returns current engine counters.
func (e *Engine) Stats() Stats {
	e.bridges.mu.RLock()
	bridgeKeys := len(e.bridges.byID)
	e.bridges.mu.RUnlock()

	e.backendsMu.RLock()
	names := make([]string, 0, len(e.backends))
	for n := range e.backends {
		names = append(names, n)
	}
	e.backendsMu.RUnlock()

	return Stats{
		ActiveChannels: e.channels.len(),
		BridgeKeys:     bridgeKeys,
		BatchDepth:     e.queue.Depth(),
		Backends:       names,
	}
}
