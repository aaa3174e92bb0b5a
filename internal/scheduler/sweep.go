package scheduler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/results"
)

// job is one queued encounter together with the state it replaced.
type job struct {
	id    models.EncounterID
	prior results.Prior
}

// Sweep is the handle of one requested sweep.
type Sweep struct {
	id     uuid.UUID
	scope  Scope
	agent  models.AgentSnapshot
	trials int
	ticks  int
	plan   Plan
	total  int

	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders cancellation against result commits: a job commits under
	// the read lock only if the sweep is not cancelled.
	mu        sync.RWMutex
	cancelled atomic.Bool

	completed atomic.Int64

	processedMu sync.Mutex
	processed   []models.EncounterID

	done     chan struct{}
	finished atomic.Pointer[time.Time]
}

func newSweep(parent context.Context, scope Scope, req Request, plan Plan, total int) *Sweep {
	ctx, cancel := context.WithCancel(parent)
	sw := &Sweep{
		id:      uuid.New(),
		scope:   scope,
		agent:   req.Agent.Clone(),
		trials:  req.Trials,
		ticks:   req.Ticks,
		plan:    plan,
		total:   total,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	return sw
}

// ID returns the sweep's handle ID.
func (s *Sweep) ID() uuid.UUID { return s.id }

// Scope returns what the sweep covers.
func (s *Sweep) Scope() Scope { return s.scope }

// Done is closed once aggregation has run and observers were notified.
func (s *Sweep) Done() <-chan struct{} { return s.done }

// Wait blocks until the sweep is done or ctx ends.
func (s *Sweep) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestCancel sets the cancellation flag. It reports whether this call
// changed it.
func (s *Sweep) requestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	s.cancelled.Store(true)
	s.cancel()
	return true
}

func (s *Sweep) markProcessed(id models.EncounterID) {
	s.processedMu.Lock()
	s.processed = append(s.processed, id)
	s.processedMu.Unlock()
}

func (s *Sweep) processedIDs() []models.EncounterID {
	s.processedMu.Lock()
	defer s.processedMu.Unlock()
	out := make([]models.EncounterID, len(s.processed))
	copy(out, s.processed)
	return out
}

func (s *Sweep) finish() {
	now := time.Now()
	s.finished.Store(&now)
	s.cancel()
	close(s.done)
}

// Status is a point-in-time view of a sweep.
type Status struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Cancelled bool      `json:"cancelled"`
	Done      bool      `json:"done"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished,omitzero"`
}

// Status returns the sweep's progress.
func (s *Sweep) Status() Status {
	st := Status{
		ID:        s.id.String(),
		Scope:     s.scope.String(),
		Completed: int(s.completed.Load()),
		Total:     s.total,
		Cancelled: s.cancelled.Load(),
		Started:   s.started,
	}
	if f := s.finished.Load(); f != nil {
		st.Done = true
		st.Finished = *f
	}
	return st
}

func sortStatuses(st []Status) {
	slices.SortFunc(st, func(a, b Status) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
