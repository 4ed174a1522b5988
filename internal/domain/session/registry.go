package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/id"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

// DefaultGracePeriod bounds how long a session may wait for its channel.
const DefaultGracePeriod = 5 * time.Minute

// record is one session. All fields after mu are protected by mu.
type record struct {
	id        string
	task      string
	model     string
	createdAt time.Time

	mu        sync.Mutex
	state     types.SessionState
	updatedAt time.Time
	owner     *Binding
	removed   bool
}

func (r *record) snapshot() types.SessionSnapshot {
	return types.SessionSnapshot{
		ID:        r.id,
		State:     r.state,
		Task:      r.task,
		Model:     r.model,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
		Bound:     r.owner != nil,
	}
}

// Registry owns every live session. Records are locked individually so
// unrelated sessions never contend.
type Registry struct {
	records sync.Map // id -> *record
	grace   time.Duration
	now     func() time.Time
	newID   func() string
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// Option customizes a Registry
type Option func(*Registry)

// WithClock replaces the time source used for timestamps and sweeps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDSource replaces the session identifier generator
func WithIDSource(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry creates an empty registry. A non-positive grace falls back to
// DefaultGracePeriod.
func NewRegistry(grace time.Duration, logger *logging.Logger, opts ...Option) *Registry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		grace:  grace,
		now:    time.Now,
		newID:  func() string { return id.NewSessionID().String() },
		logger: logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// Create allocates a fresh identifier and stores a new record in state
// Created. It never blocks on executor work.
func (r *Registry) Create(task, model string) (string, error) {
	now := r.now()
	rec := &record{
		id:        r.newID(),
		task:      task,
		model:     model,
		createdAt: now,
		state:     types.SessionCreated,
		updatedAt: now,
	}

	if _, loaded := r.records.LoadOrStore(rec.id, rec); loaded {
		// Identifiers are never reused; a collision is a bug, not a retry.
		r.logger.Error("session identifier collision",
			zap.String("session_id", rec.id),
			zap.Stack("stack"),
		)
		return "", types.NewError(types.CategoryInternal, "could not allocate session", nil)
	}

	r.metrics.IncSessionsCreated()
	r.logger.Debug("session created",
		zap.String("session_id", rec.id),
		zap.String("model", model),
	)
	return rec.id, nil
}

// Bind atomically claims the session for one channel. Exactly one of any
// number of concurrent callers wins; the rest get ErrAlreadyBound. The
// returned binding's context is derived from ctx and is cancelled on
// Release or Remove.
func (r *Registry) Bind(ctx context.Context, sessionID string) (*Binding, error) {
	rec, ok := r.load(sessionID)
	if !ok {
		return nil, r.reject(notFound(sessionID))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case rec.removed:
		return nil, r.reject(notFound(sessionID))
	case rec.state.Terminal():
		return nil, r.reject(types.NewError(types.CategorySessionTerminal,
			fmt.Sprintf("session %s has already finished (%s)", sessionID, rec.state), nil))
	case rec.owner != nil || rec.state != types.SessionCreated:
		return nil, r.reject(types.NewError(types.CategoryAlreadyBound,
			fmt.Sprintf("session %s already has an attached channel", sessionID), nil))
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Binding{registry: r, rec: rec, ctx: bctx, cancel: cancel}
	rec.owner = b
	rec.state = types.SessionConnected
	rec.updatedAt = r.now()

	r.logger.Debug("channel bound", zap.String("session_id", sessionID))
	return b, nil
}

// Remove deletes the record. It is idempotent.
func (r *Registry) Remove(sessionID string) {
	v, loaded := r.records.LoadAndDelete(sessionID)
	if !loaded {
		return
	}
	rec := v.(*record)

	rec.mu.Lock()
	// A concurrent sweep may have claimed the record after it was loaded
	// from the map but before this delete; whoever sets removed owns the
	// accounting.
	if rec.removed {
		rec.mu.Unlock()
		return
	}
	rec.removed = true
	if rec.owner != nil {
		rec.owner.cancel()
	}
	state := rec.state
	rec.mu.Unlock()

	r.metrics.DecSessionsActive()
	r.logger.Debug("session removed",
		zap.String("session_id", sessionID),
		zap.Stringer("state", state),
	)
}

// Get returns a consistent snapshot of one session
func (r *Registry) Get(sessionID string) (types.SessionSnapshot, bool) {
	rec, ok := r.load(sessionID)
	if !ok {
		return types.SessionSnapshot{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return types.SessionSnapshot{}, false
	}
	return rec.snapshot(), true
}

// Stats returns counts of live sessions by state
func (r *Registry) Stats() types.SessionStats {
	stats := types.SessionStats{ByState: make(map[types.SessionState]int)}
	r.records.Range(func(_, v any) bool {
		rec := v.(*record)
		rec.mu.Lock()
		if !rec.removed {
			stats.Total++
			stats.ByState[rec.state]++
		}
		rec.mu.Unlock()
		return true
	})
	return stats
}

// Sweep removes stale sessions and returns how many it removed:
// Created records older than the grace period, Expired records, terminal
// records their handler never removed, and Connected/Running records
// whose channel went away without releasing.
func (r *Registry) Sweep() int {
	now := r.now()
	removed := 0

	r.records.Range(func(_, v any) bool {
		rec := v.(*record)
		rec.mu.Lock()
		if r.sweepLocked(rec, now) {
			removed++
		}
		rec.mu.Unlock()
		return true
	})

	r.metrics.AddSessionsSwept(removed)
	return removed
}

// sweepLocked removes rec if it is stale. It must be called with rec.mu
// held and reports whether this call removed the record.
func (r *Registry) sweepLocked(rec *record, now time.Time) bool {
	if rec.removed || !r.stale(rec, now) {
		return false
	}

	prev := rec.state
	if !rec.state.Terminal() {
		rec.state = types.SessionExpired
		rec.updatedAt = now
		r.metrics.RecordSessionTerminal(types.SessionExpired.String())
	}
	if rec.owner != nil {
		rec.owner.cancel()
	}
	rec.removed = true
	r.records.CompareAndDelete(rec.id, rec)
	r.metrics.DecSessionsActive()

	r.logger.Debug("session swept",
		zap.String("session_id", rec.id),
		zap.Stringer("state", prev),
		zap.Duration("age", now.Sub(rec.createdAt)),
	)
	return true
}

// stale must be called with rec.mu held
func (r *Registry) stale(rec *record, now time.Time) bool {
	switch rec.state {
	case types.SessionCreated:
		return now.Sub(rec.createdAt) > r.grace
	case types.SessionConnected, types.SessionRunning:
		return rec.owner == nil || rec.owner.ctx.Err() != nil
	default:
		return true
	}
}

// Run sweeps every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.grace / 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("session sweeper started",
		zap.Duration("interval", interval),
		zap.Duration("grace_period", r.grace),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("swept stale sessions", zap.Int("removed", n))
			}
		}
	}
}

func (r *Registry) load(sessionID string) (*record, bool) {
	v, ok := r.records.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

func (r *Registry) reject(err *types.Error) error {
	r.metrics.RecordBindRejection(string(err.Category))
	return err
}

func notFound(sessionID string) *types.Error {
	return types.NewError(types.CategoryNotFound, fmt.Sprintf("session %s not found", sessionID), nil)
}
