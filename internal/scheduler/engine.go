// Package scheduler runs sweeps: it expands a scope into encounter jobs,
// fans them out over a fixed worker pool, commits results, and once every
// job of a sweep is terminal re-aggregates the affected groups and
// recomputes adjusted rates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/sweepsim/internal/adjust"
	"github.com/nvandessel/sweepsim/internal/aggregate"
	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/logging"
	"github.com/nvandessel/sweepsim/internal/loot"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/nvandessel/sweepsim/internal/results"
	"github.com/nvandessel/sweepsim/internal/runner"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownGroup is returned for an instance or task-set ID the catalog
	// does not define.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrUnknownEncounter is returned for an encounter ID the catalog does
	// not define.
	ErrUnknownEncounter = errors.New("unknown encounter")
	// ErrUnknownSweep is returned for a sweep handle this engine never issued.
	ErrUnknownSweep = errors.New("unknown sweep")
	// ErrInvalidBudget is returned when a trial or tick budget is not positive.
	ErrInvalidBudget = errors.New("invalid budget")
)

// DefaultMaxSweeps is the number of sweep handles an Engine retains.
const DefaultMaxSweeps = 256

// HistoryRecorder receives a snapshot after every completed sweep when
// history tracking is on.
type HistoryRecorder interface {
	Record(ctx context.Context, sweepID, scope string, snap results.Snapshot) error
}

// Options configures an Engine.
type Options struct {
	// Workers is the pool size; zero uses the CPU count.
	Workers int
	// Costs drives the adjusted rates.
	Costs adjust.CostModel
	// Loot fills loot fields before commit. Nil leaves them NaN.
	Loot *loot.Pass
	// Aggregate configures compound event composition.
	Aggregate aggregate.Options
	// MaxSweeps caps how many sweep handles are kept. Once exceeded, the
	// oldest finished sweeps are forgotten. Zero uses DefaultMaxSweeps.
	MaxSweeps int

	TrackHistory bool
	History      HistoryRecorder

	Logger *slog.Logger
	Events *logging.EventLogger
}

// Request describes one sweep.
type Request struct {
	Scope  Scope
	Agent  models.AgentSnapshot
	Trials int
	Ticks  int
}

// Progress is delivered after every finished job.
type Progress struct {
	Sweep     string `json:"sweep"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Completion is delivered once per sweep after aggregation.
type Completion struct {
	Sweep     string                  `json:"sweep"`
	Scope     string                  `json:"scope"`
	Cancelled bool                    `json:"cancelled"`
	Snapshot  results.Snapshot        `json:"snapshot"`
	Adjusted  map[string]adjust.Rates `json:"adjusted"`
}

// Engine is the entry point for sweeps over one catalog.
type Engine struct {
	cat      *catalog.Catalog
	runner   runner.Runner
	store    *results.Store
	expander *Expander
	pool     *Pool
	opts     Options
	logger   *slog.Logger

	base    context.Context
	stopAll context.CancelFunc

	mu     sync.RWMutex
	sweeps map[uuid.UUID]*Sweep

	hooksMu    sync.RWMutex
	onProgress []func(Progress)
	onComplete []func(Completion)

	// emitMu serializes observer callbacks.
	emitMu sync.Mutex
}

// New creates an Engine with its own result store and worker pool.
func New(cat *catalog.Catalog, r runner.Runner, opts Options) *Engine {
	store := results.New()
	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		cat:      cat,
		runner:   r,
		store:    store,
		expander: NewExpander(cat, store),
		pool:     NewPool(opts.Workers),
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger),
		base:     base,
		stopAll:  stop,
		sweeps:   make(map[uuid.UUID]*Sweep),
	}
	if e.opts.MaxSweeps <= 0 {
		e.opts.MaxSweeps = DefaultMaxSweeps
	}
	return e
}

// settledSource feeds the aggregator a consistent view of a group's
// members taken under one store read.
type settledSource struct {
	members map[models.EncounterID]models.Telemetry
	loot    *loot.Pass
}

func (s settledSource) MemberTelemetry(id models.EncounterID) models.Telemetry {
	return s.members[id]
}

func (s settledSource) RareChancePerRoll(id models.EncounterID) float64 {
	return s.loot.RareChancePerRoll(id)
}

// Store exposes the result store for read access.
func (e *Engine) Store() *results.Store { return e.store }

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// PoolSize returns the fixed worker count.
func (e *Engine) PoolSize() int { return e.pool.Size() }

// BusyWorkers returns how many worker slots are running a job right now.
func (e *Engine) BusyWorkers() int { return e.pool.Busy() }

// OnProgress registers a progress observer. Observers are called one at a
// time and must not block for long.
func (e *Engine) OnProgress(fn func(Progress)) {
	e.hooksMu.Lock()
	e.onProgress = append(e.onProgress, fn)
	e.hooksMu.Unlock()
}

// OnComplete registers a completion observer.
func (e *Engine) OnComplete(fn func(Completion)) {
	e.hooksMu.Lock()
	e.onComplete = append(e.onComplete, fn)
	e.hooksMu.Unlock()
}

// RequestSweep expands req.Scope, queues every encounter not already
// queued and starts dispatch. It returns without waiting for any job.
func (e *Engine) RequestSweep(req Request) (*Sweep, error) {
	if req.Trials <= 0 || req.Ticks <= 0 {
		return nil, fmt.Errorf("%w: trials %d, ticks %d", ErrInvalidBudget, req.Trials, req.Ticks)
	}
	agent := req.Agent.Clone()
	plan, err := e.expander.Expand(req.Scope, agent)
	if err != nil {
		return nil, err
	}

	jobs := make([]job, 0, len(plan.IDs))
	for _, id := range plan.IDs {
		prior, ok := e.store.MarkQueued(id)
		if !ok {
			e.logger.Debug("skipping already queued encounter", "encounter", id)
			continue
		}
		jobs = append(jobs, job{id: id, prior: prior})
	}

	req.Agent = agent
	sw := newSweep(e.base, req.Scope, req, plan, len(jobs))
	e.mu.Lock()
	e.sweeps[sw.id] = sw
	e.pruneLocked()
	e.mu.Unlock()

	e.logger.Info("sweep started", "sweep", sw.id, "scope", req.Scope, "jobs", len(jobs), "workers", e.pool.Size())
	e.opts.Events.Log(logging.Event{Type: logging.EventSweepStarted, Sweep: sw.id.String(), Scope: req.Scope.String(), Total: len(jobs)})

	go e.run(sw, jobs)
	return sw, nil
}

// pruneLocked forgets the oldest finished sweeps while more than MaxSweeps
// are held. Running sweeps are never dropped.
func (e *Engine) pruneLocked() {
	excess := len(e.sweeps) - e.opts.MaxSweeps
	if excess <= 0 {
		return
	}
	finished := make([]*Sweep, 0, len(e.sweeps))
	for _, sw := range e.sweeps {
		if sw.finished.Load() != nil {
			finished = append(finished, sw)
		}
	}
	slices.SortFunc(finished, func(a, b *Sweep) int {
		return a.finished.Load().Compare(*b.finished.Load())
	})
	for _, sw := range finished[:min(excess, len(finished))] {
		delete(e.sweeps, sw.id)
	}
}

// run is the sweep's control goroutine. It only blocks waiting for a free
// worker slot, then in Wait for the last dispatched job to finish.
func (e *Engine) run(sw *Sweep, jobs []job) {
	var g errgroup.Group

	next := 0
	for ; next < len(jobs); next++ {
		if sw.cancelled.Load() || !e.pool.acquire(sw.ctx.Done()) {
			break
		}
		if sw.cancelled.Load() {
			e.pool.release()
			break
		}
		j := jobs[next]
		e.logger.Debug("dispatching job", "sweep", sw.id, "encounter", j.id)
		g.Go(func() error {
			defer e.pool.release()
			e.runJob(sw, j)
			return nil
		})
	}
	// Never-dispatched jobs still count as touched, so groups another sweep
	// deferred on them are derived again from the restored state.
	for _, j := range jobs[next:] {
		e.store.Restore(j.id, j.prior)
		sw.markProcessed(j.id)
	}

	// Jobs report failures as data, so Wait only serves as the barrier
	// after which every dispatched job is terminal.
	_ = g.Wait()
	e.complete(sw)
}

func (e *Engine) runJob(sw *Sweep, j job) {
	tel := e.execute(sw, j.id)

	sw.mu.RLock()
	if sw.cancelled.Load() {
		e.store.Discard(j.id)
	} else {
		e.opts.Loot.Apply(j.id, &tel)
		e.store.Commit(j.id, tel)
	}
	sw.mu.RUnlock()

	if !tel.SimSuccess && !sw.cancelled.Load() {
		e.logger.Warn("job failed", "sweep", sw.id, "encounter", j.id, "reason", tel.Reason)
		e.opts.Events.Log(logging.Event{Type: logging.EventJobFailed, Sweep: sw.id.String(), Encounter: j.id.String(), Reason: tel.Reason})
	} else {
		e.logger.Log(sw.ctx, logging.LevelTrace, "job finished", "sweep", sw.id, "encounter", j.id,
			"success", tel.SimSuccess, "kill_time", tel.KillTimeSeconds)
	}

	sw.markProcessed(j.id)
	e.emitProgress(sw)
}

// execute runs one encounter and normalizes whatever comes back into a
// record that honors the telemetry invariants.
func (e *Engine) execute(sw *Sweep, id models.EncounterID) models.Telemetry {
	enc, ok := e.cat.Encounter(id)
	if !ok {
		return models.Failed(fmt.Sprintf("%v: %s", ErrUnknownEncounter, id))
	}
	if !e.cat.CanFight(id, sw.agent) {
		return models.Failed(models.ReasonUnreachable)
	}

	tel, err := e.invoke(sw.ctx, runner.Request{
		ID:        id,
		Encounter: enc,
		Agent:     sw.agent.Clone(),
		Trials:    sw.trials,
		Ticks:     sw.ticks,
	})
	if err != nil {
		return models.Failed(err.Error())
	}
	tel = tel.Clone()
	if !tel.SimSuccess {
		if tel.Reason == "" {
			tel.Reason = "runner reported failure"
		}
		return tel
	}
	switch {
	case math.IsNaN(tel.KillTimeSeconds) || tel.KillTimeSeconds <= 0:
		return models.Failed(fmt.Sprintf("invalid kill time %v", tel.KillTimeSeconds))
	case !(tel.DeathRate >= 0 && tel.DeathRate <= 1):
		return models.Failed(fmt.Sprintf("invalid death rate %v", tel.DeathRate))
	}
	tel.Reason = ""
	tel.SetKillTime(tel.KillTimeSeconds)
	return tel
}

func (e *Engine) invoke(ctx context.Context, req runner.Request) (t models.Telemetry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return e.runner.Run(ctx, req)
}

func (e *Engine) emitProgress(sw *Sweep) {
	e.hooksMu.RLock()
	hooks := e.onProgress
	e.hooksMu.RUnlock()

	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	p := Progress{Sweep: sw.id.String(), Completed: int(sw.completed.Add(1)), Total: sw.total}
	for _, fn := range hooks {
		fn(p)
	}
}

// complete runs after every job of sw is terminal.
func (e *Engine) complete(sw *Sweep) {
	cancelled := sw.cancelled.Load()

	groups := e.expander.AffectedGroups(sw.plan, sw.processedIDs(), sw.agent)
	aggregated := 0
	for _, id := range groups {
		spec, ok := e.cat.Group(id, sw.agent)
		if !ok {
			continue
		}
		var t models.Telemetry
		if !e.store.GroupIncluded(id) {
			t = models.Failed(models.ReasonFiltered)
		} else {
			members, settled := e.store.Settled(spec.Members)
			if !settled {
				// The sweep that owns the queued member derives this group
				// once that member is terminal.
				e.logger.Debug("group deferred, member queued elsewhere", "sweep", sw.id, "group", id)
				continue
			}
			t = aggregate.New(settledSource{members: members, loot: e.opts.Loot}, e.opts.Aggregate).Aggregate(spec, true)
		}
		e.store.SetGroup(id, t)
		aggregated++
		e.logger.Debug("group aggregated", "sweep", sw.id, "group", id, "members", len(spec.Members), "success", t.SimSuccess)
	}

	snap := e.store.Snapshot()
	adjusted := e.adjustAll(snap)

	if e.opts.TrackHistory && e.opts.History != nil && !cancelled {
		ctx, cancel := context.WithTimeout(e.base, 10*time.Second)
		if err := e.opts.History.Record(ctx, sw.id.String(), sw.scope.String(), snap); err != nil {
			e.logger.Warn("recording history failed", "sweep", sw.id, "error", err)
		}
		cancel()
	}

	st := sw.Status()
	elapsed := time.Since(sw.started).Round(time.Millisecond)
	if cancelled {
		e.logger.Info("sweep cancelled", "sweep", sw.id, "completed", st.Completed, "total", st.Total, "elapsed", elapsed)
		e.opts.Events.Log(logging.Event{Type: logging.EventSweepCancelled, Sweep: sw.id.String(), Completed: st.Completed, Total: st.Total, Elapsed: elapsed.String()})
	} else {
		e.logger.Info("sweep completed", "sweep", sw.id, "jobs", st.Total, "groups", aggregated, "elapsed", elapsed)
		e.opts.Events.Log(logging.Event{Type: logging.EventSweepCompleted, Sweep: sw.id.String(), Completed: st.Completed, Total: st.Total, Elapsed: elapsed.String()})
	}

	e.hooksMu.RLock()
	hooks := e.onComplete
	e.hooksMu.RUnlock()
	c := Completion{Sweep: sw.id.String(), Scope: sw.scope.String(), Cancelled: cancelled, Snapshot: snap, Adjusted: adjusted}
	e.emitMu.Lock()
	for _, fn := range hooks {
		fn(c)
	}
	e.emitMu.Unlock()

	sw.finish()
}

func (e *Engine) adjustAll(snap results.Snapshot) map[string]adjust.Rates {
	out := make(map[string]adjust.Rates, len(snap.Encounters)+len(snap.Groups))
	for _, en := range snap.Encounters {
		out[en.ID.String()] = adjust.Adjust(en.Telemetry, e.opts.Costs)
	}
	for _, g := range snap.Groups {
		out[g.ID] = adjust.Adjust(g.Telemetry, e.opts.Costs)
	}
	return out
}

// Cancel requests cooperative cancellation. Jobs already running finish but
// their results are discarded; queued jobs never start.
func (e *Engine) Cancel(id uuid.UUID) error {
	sw, err := e.sweep(id)
	if err != nil {
		return err
	}
	if sw.requestCancel() {
		e.logger.Info("sweep cancellation requested", "sweep", id)
	}
	return nil
}

// Sweep returns the handle for id.
func (e *Engine) Sweep(id uuid.UUID) (*Sweep, error) {
	return e.sweep(id)
}

func (e *Engine) sweep(id uuid.UUID) (*Sweep, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sw, ok := e.sweeps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSweep, id)
	}
	return sw, nil
}

// Status returns the progress of one sweep.
func (e *Engine) Status(id uuid.UUID) (Status, error) {
	sw, err := e.sweep(id)
	if err != nil {
		return Status{}, err
	}
	return sw.Status(), nil
}

// Sweeps lists every sweep this engine has started, oldest first.
func (e *Engine) Sweeps() []Status {
	e.mu.RLock()
	out := make([]Status, 0, len(e.sweeps))
	for _, sw := range e.sweeps {
		out = append(out, sw.Status())
	}
	e.mu.RUnlock()
	sortStatuses(out)
	return out
}

// GetResult returns the record for a group ID or an encounter ID.
func (e *Engine) GetResult(id string) (models.Telemetry, bool) {
	if t, ok := e.store.Group(id); ok {
		return t, true
	}
	eid, err := models.ParseEncounterID(id)
	if err != nil {
		return models.Telemetry{}, false
	}
	entry, ok := e.store.Entry(eid)
	if !ok {
		return models.Telemetry{}, false
	}
	return entry.Telemetry, true
}

// Adjusted returns the cost-adjusted rates of a group or encounter.
func (e *Engine) Adjusted(id string) (adjust.Rates, bool) {
	t, ok := e.GetResult(id)
	if !ok {
		return adjust.Rates{}, false
	}
	return adjust.Adjust(t, e.opts.Costs), true
}

// SetFilter sets the include flag of a group or encounter. Group IDs take
// precedence over encounter IDs.
func (e *Engine) SetFilter(id string, included bool) error {
	if _, ok := e.cat.GroupKind(id); ok {
		e.store.SetGroupFilter(id, included)
		e.logger.Debug("group filter set", "group", id, "included", included)
		return nil
	}
	eid, err := models.ParseEncounterID(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownEncounter, err)
	}
	if _, ok := e.cat.Encounter(eid); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEncounter, id)
	}
	e.store.SetEncounterFilter(eid, included)
	e.logger.Debug("encounter filter set", "encounter", eid, "included", included)
	return nil
}

// Close cancels every running sweep and waits for them to finish.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.RLock()
	running := make([]*Sweep, 0, len(e.sweeps))
	for _, sw := range e.sweeps {
		running = append(running, sw)
	}
	e.mu.RUnlock()

	for _, sw := range running {
		sw.requestCancel()
	}
	for _, sw := range running {
		if err := sw.Wait(ctx); err != nil {
			return err
		}
	}
	e.stopAll()
	return nil
}
