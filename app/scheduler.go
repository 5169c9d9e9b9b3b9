package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/domain/action"
	"github.com/artfold/designbridge/ports"
)

// Future is the completion handle of a submitted invocation.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed when the invocation settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the invocation settles or ctx is canceled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

// Result returns the settled outcome. Only valid after Done is closed.
func (f *Future) Result() (any, error) { return f.value, f.err }

func (f *Future) settle(v any, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

func settledFuture(v any, err error) *Future {
	f := newFuture()
	f.settle(v, err)
	return f
}

// invocation is one queued request to run an action.
type invocation struct {
	id        string
	seq       uint64
	act       *action.Action
	args      any
	ctx       context.Context
	fut       *Future
	submitted time.Time
}

// DivergenceHandler is invoked when a post-settlement check reports that
// local and host state disagree. Bootstrap wires it to the resyncer.
type DivergenceHandler func(ctx context.Context, cause error)

// Scheduler serializes action invocations over their declared lock sets.
//
// Admission rule: an invocation starts only when no earlier-sequenced
// invocation that is still in flight, or still waiting ahead of it,
// conflicts with it. Two invocations conflict when either writes a lock
// the other touches; read-only overlap is concurrent. The rule is FIFO
// per lock: a waiting writer blocks every later accessor of that lock,
// and nothing ever waits on work submitted after it.
//
// The modal gate defers invocations whose action is not ModalAllowed
// while the host is in a modal sub-state. Deferred invocations keep
// their queue position, including for conflict purposes, so clearing
// the gate releases them in their original submission order.
type Scheduler struct {
	clock  ports.Clock
	ids    ports.IDGenerator
	inst   ports.Instrumentation
	logger zerolog.Logger

	onDivergence DivergenceHandler

	mu      sync.Mutex
	nextSeq uint64
	queue   []*invocation
	running map[uint64]*invocation
	modal   bool
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(clock ports.Clock, ids ports.IDGenerator, inst ports.Instrumentation, logger zerolog.Logger) *Scheduler {
	if inst == nil {
		inst = ports.NopInstrumentation{}
	}
	return &Scheduler{
		clock:   clock,
		ids:     ids,
		inst:    inst,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		running: make(map[uint64]*invocation),
	}
}

// SetDivergenceHandler installs the hook called on failed post checks.
func (s *Scheduler) SetDivergenceHandler(h DivergenceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDivergence = h
}

// Submit queues an invocation of act and returns its completion handle.
// The returned future settles with the body's result, or with an error
// if the body fails or the scheduler is shut down first.
func (s *Scheduler) Submit(ctx context.Context, act *action.Action, args any) *Future {
	if act == nil || act.Run == nil {
		return settledFuture(nil, fmt.Errorf("submit: nil action"))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return settledFuture(nil, fmt.Errorf("submit %q: scheduler is shut down", act.Name))
	}
	s.nextSeq++
	inv := &invocation{
		id:        s.ids.New(),
		seq:       s.nextSeq,
		act:       act,
		args:      args,
		ctx:       ctx,
		fut:       newFuture(),
		submitted: s.clock.Now(),
	}
	s.queue = append(s.queue, inv)
	s.inst.ActionSubmitted(act.Name)
	s.logger.Debug().
		Str("action", act.Name).
		Str("invocation", inv.id).
		Uint64("seq", inv.seq).
		Msg("action submitted")
	s.admitLocked()
	s.reportDepthLocked()
	s.mu.Unlock()

	return inv.fut
}

// SetModal flips the host modal gate. Clearing it re-evaluates the
// deferred queue immediately.
func (s *Scheduler) SetModal(modal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modal == modal {
		return
	}
	s.modal = modal
	s.logger.Info().Bool("modal", modal).Msg("modal state changed")
	if !modal {
		s.admitLocked()
		s.reportDepthLocked()
	}
}

// Modal reports the current modal gate state.
func (s *Scheduler) Modal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

// Stats is a point-in-time view of the queue for diagnostics.
type Stats struct {
	Pending   int      `json:"pending"`
	Running   int      `json:"running"`
	Modal     bool     `json:"modal"`
	Submitted uint64   `json:"submitted"`
	Queued    []string `json:"queued,omitempty"`
	InFlight  []string `json:"in_flight,omitempty"`
}

// Stats returns a snapshot of scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Pending:   len(s.queue),
		Running:   len(s.running),
		Modal:     s.modal,
		Submitted: s.nextSeq,
	}
	for _, inv := range s.queue {
		st.Queued = append(st.Queued, inv.act.Name)
	}
	for _, inv := range s.running {
		st.InFlight = append(st.InFlight, inv.act.Name)
	}
	return st
}

// Shutdown stops admission, rejects everything still queued, and waits
// for running invocations to settle or ctx to expire. In-flight host
// calls are not interrupted; a hung bridge call is the caller's ctx to
// manage.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	rejected := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, inv := range rejected {
		inv.fut.settle(nil, fmt.Errorf("action %q: scheduler is shut down", inv.act.Name))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// admitLocked starts every queued invocation whose locks are free.
// Must hold s.mu.
func (s *Scheduler) admitLocked() {
	if s.closed {
		return
	}
	var waiting []*invocation
	for _, inv := range s.queue {
		if s.startableLocked(inv, waiting) {
			s.startLocked(inv)
		} else {
			waiting = append(waiting, inv)
		}
	}
	s.queue = waiting
}

// startableLocked reports whether inv may begin now: not modal-gated,
// and conflict-free against both running work and every invocation
// still waiting ahead of it.
func (s *Scheduler) startableLocked(inv *invocation, ahead []*invocation) bool {
	if s.modal && !inv.act.ModalAllowed {
		return false
	}
	for _, r := range s.running {
		if conflicts(r.act, inv.act) {
			return false
		}
	}
	for _, w := range ahead {
		if conflicts(w.act, inv.act) {
			return false
		}
	}
	return true
}

// conflicts reports whether two actions may not overlap: either writes
// a lock the other reads or writes.
func conflicts(a, b *action.Action) bool {
	return a.Writes.Intersects(b.Held()) || b.Writes.Intersects(a.Held())
}

func (s *Scheduler) startLocked(inv *invocation) {
	s.running[inv.seq] = inv
	wait := s.clock.Now().Sub(inv.submitted)
	s.inst.ActionStarted(inv.act.Name, wait)
	s.logger.Debug().
		Str("action", inv.act.Name).
		Str("invocation", inv.id).
		Dur("waited", wait).
		Msg("action started")
	s.wg.Add(1)
	go s.run(inv)
}

func (s *Scheduler) run(inv *invocation) {
	defer s.wg.Done()
	started := s.clock.Now()

	value, err := runBody(inv)

	s.mu.Lock()
	delete(s.running, inv.seq)
	s.admitLocked()
	s.reportDepthLocked()
	divergence := s.onDivergence
	s.mu.Unlock()

	duration := s.clock.Now().Sub(started)
	s.inst.ActionSettled(inv.act.Name, err != nil, duration)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("action", inv.act.Name).
			Str("invocation", inv.id).
			Dur("duration", duration).
			Msg("action failed")
	} else {
		s.logger.Debug().
			Str("action", inv.act.Name).
			Str("invocation", inv.id).
			Dur("duration", duration).
			Msg("action settled")
	}

	inv.fut.settle(value, err)
	s.postChecks(inv, divergence)
}

// runBody executes the action body, converting a panic into a settled
// error so locks are never retained after a failure.
func runBody(inv *invocation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q panicked: %v", inv.act.Name, r)
		}
	}()
	return inv.act.Run(inv.ctx, inv.args)
}

// postChecks runs the action's consistency checks after settlement.
// Failures are diagnostic: logged, counted, and handed to the
// divergence handler, never surfaced to the submitter.
func (s *Scheduler) postChecks(inv *invocation, divergence DivergenceHandler) {
	if len(inv.act.Post) == 0 {
		return
	}
	// The submitter may have stopped waiting already; checks and any
	// resulting resync still need a live context.
	ctx := context.WithoutCancel(inv.ctx)
	for _, check := range inv.act.Post {
		err := check(ctx, inv.args)
		if err == nil {
			continue
		}
		s.inst.ConsistencyErrorDetected(inv.act.Name)
		s.logger.Error().
			Err(err).
			Str("action", inv.act.Name).
			Str("invocation", inv.id).
			Msg("post-settlement check failed")
		if divergence != nil {
			divergence(ctx, err)
		}
	}
}

// reportDepthLocked publishes queue gauges. Must hold s.mu.
func (s *Scheduler) reportDepthLocked() {
	s.inst.QueueDepth(len(s.queue), len(s.running))
}
