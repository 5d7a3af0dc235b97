package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stringpool/internal/clock"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
)

// Replication defaults.
const (
	DefaultBatchSize      = 32
	DefaultFeedCap        = 16384
	DefaultSlack          = 999 * time.Millisecond
	DefaultThrottle       = time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultInterval       = 10 * time.Minute
	DefaultMaxRounds      = 1000
)

// IntervalPeer is implemented by peers with their own sync interval.
type IntervalPeer interface {
	Interval() time.Duration
}

// Engine replicates records from peers into the local store.
//
// Thread-safety model:
//   - SyncPeer(): safe from any goroutine; cycles of one peer are serialized
//   - Run(): starts one goroutine per peer and blocks until ctx is done
//   - Trigger(), State(): safe from any goroutine
type Engine struct {
	store    *store.Store
	peers    []Peer
	clock    clock.Clock
	runIDs   RunIDGenerator
	metrics  stats.Sink
	actor    ir.Actor
	observer Observer

	batchSize int
	feedCap   int
	maxRounds int
	slack     time.Duration
	throttle  time.Duration
	timeout   time.Duration
	interval  time.Duration

	mu       sync.Mutex
	states   map[string]State
	locks    map[string]*sync.Mutex
	triggers map[string]chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for report timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithMetrics sets the stats sink.
func WithMetrics(s stats.Sink) Option {
	return func(e *Engine) { e.metrics = s }
}

// WithActor sets the identity recorded on metadata updates and history.
func WithActor(a ir.Actor) Option {
	return func(e *Engine) { e.actor = a }
}

// WithObserver sets the state transition hook.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithBatchSize sets the number of records fetched per request.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithFeedCap sets the number of feed entries requested per round.
func WithFeedCap(n int) Option {
	return func(e *Engine) { e.feedCap = n }
}

// WithMaxRounds bounds the feed rounds of one cycle.
func WithMaxRounds(n int) Option {
	return func(e *Engine) { e.maxRounds = n }
}

// WithSlack sets how far before the watermark the feed is re-read.
func WithSlack(d time.Duration) Option {
	return func(e *Engine) { e.slack = d }
}

// WithThrottle sets the pause between fetch batches.
func WithThrottle(d time.Duration) Option {
	return func(e *Engine) { e.throttle = d }
}

// WithRequestTimeout bounds every peer request.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithInterval sets the default pause between cycles in Run.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// New creates an engine pulling from peers into st. Peer names must be
// unique and non-empty.
func New(st *store.Store, peers []Peer, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     st,
		peers:     append([]Peer(nil), peers...),
		clock:     clock.NewSystem(),
		runIDs:    UUIDv7Generator{},
		metrics:   stats.Discard,
		batchSize: DefaultBatchSize,
		feedCap:   DefaultFeedCap,
		maxRounds: DefaultMaxRounds,
		slack:     DefaultSlack,
		throttle:  DefaultThrottle,
		timeout:   DefaultRequestTimeout,
		interval:  DefaultInterval,
		states:    make(map[string]State),
		locks:     make(map[string]*sync.Mutex),
		triggers:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.batchSize <= 0 || e.feedCap <= 0 || e.maxRounds <= 0 {
		return nil, fmt.Errorf("batch size, feed cap and max rounds must be positive")
	}
	if e.timeout <= 0 || e.interval <= 0 {
		return nil, fmt.Errorf("request timeout and interval must be positive")
	}
	for _, p := range e.peers {
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("peer with empty name")
		}
		if _, dup := e.locks[name]; dup {
			return nil, fmt.Errorf("duplicate peer %q", name)
		}
		e.locks[name] = &sync.Mutex{}
		e.triggers[name] = make(chan struct{}, 1)
		e.states[name] = StateIdle
	}
	return e, nil
}

// Peers returns the configured peers.
func (e *Engine) Peers() []Peer {
	return append([]Peer(nil), e.peers...)
}

// Peer returns the configured peer with the given name.
func (e *Engine) Peer(name string) (Peer, bool) {
	for _, p := range e.peers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// State returns the current cycle state of a peer.
func (e *Engine) State(peer string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[peer]
}

func (e *Engine) setState(peer string, s State) {
	e.mu.Lock()
	e.states[peer] = s
	e.mu.Unlock()
	if e.observer != nil {
		e.observer(peer, s)
	}
}

func (e *Engine) peerLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

// Trigger asks Run to sync peer now instead of waiting for the next tick.
// Repeated triggers before the cycle starts coalesce. Returns false for an
// unknown peer.
func (e *Engine) Trigger(peer string) bool {
	e.mu.Lock()
	ch, ok := e.triggers[peer]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

// Run syncs every peer on its own schedule until ctx is done. Each peer
// runs in its own goroutine; a failing peer does not affect the others.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("replication starting", "peers", len(e.peers), "interval", e.interval)

	var wg sync.WaitGroup
	for _, p := range e.peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			e.runPeer(ctx, p)
		}(p)
	}
	wg.Wait()

	slog.Info("replication stopped")
	return ctx.Err()
}

func (e *Engine) runPeer(ctx context.Context, p Peer) {
	interval := e.interval
	if ip, ok := p.(IntervalPeer); ok && ip.Interval() > 0 {
		interval = ip.Interval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.mu.Lock()
	trigger := e.triggers[p.Name()]
	e.mu.Unlock()

	for {
		report, err := e.SyncPeer(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("sync cycle failed",
				"peer", p.Name(),
				"run", report.RunID,
				"error", err,
				"retryable", ir.IsRetryable(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}
	}
}
