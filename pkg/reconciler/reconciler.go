package reconciler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/beads/pkg/beaderr"
	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
	"github.com/cuemby/beads/pkg/projection"
)

// CommandKind names the kind of corrective action a reconciliation cycle
// emits.
type CommandKind string

const (
	CommandCreate CommandKind = "create"
	CommandCancel CommandKind = "cancel"
)

// CorrectiveCommand is one action needed to close the gap between desired
// and actual state.
type CorrectiveCommand struct {
	Kind       CommandKind
	BeadID     string
	WorkflowID string
}

// DesiredBead is one bead the desired-state provider wants to exist.
type DesiredBead struct {
	BeadID     string
	WorkflowID string
}

// DesiredState is a point-in-time view of what should exist.
type DesiredState struct {
	Beads map[string]DesiredBead // bead_id -> DesiredBead
}

// DesiredProvider supplies the desired state for each reconciliation cycle.
type DesiredProvider interface {
	Desired() (DesiredState, error)
}

// ActualProvider supplies a read-only projection snapshot of actual state.
type ActualProvider interface {
	Snapshot() *projection.State
}

// Executor applies a corrective command. Implementations typically adapt
// this onto a Scheduler method.
type Executor interface {
	Execute(CorrectiveCommand) error
}

// ErrorPolicy selects how the loop reacts to cycle failures.
type ErrorPolicy struct {
	// StopOnFirstError aborts the loop on the first cycle error instead of
	// tolerating a run of them.
	StopOnFirstError bool
	// MaxConsecutiveErrors is the tolerant-mode error budget; the loop stops
	// once this many consecutive cycles have failed. Ignored when
	// StopOnFirstError is true.
	MaxConsecutiveErrors int
}

// DefaultErrorPolicy is the tolerant mode with a budget of 3 consecutive
// failures.
func DefaultErrorPolicy() ErrorPolicy {
	return ErrorPolicy{StopOnFirstError: false, MaxConsecutiveErrors: 3}
}

// Reconciler runs the periodic desired-vs-actual comparison loop.
type Reconciler struct {
	desired  DesiredProvider
	actual   ActualProvider
	executor Executor
	policy   ErrorPolicy
	logger   zerolog.Logger

	mu                sync.Mutex
	consecutiveErrors int

	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Reconciler comparing desired against actual and applying
// corrective commands through executor.
func New(desired DesiredProvider, actual ActualProvider, executor Executor, policy ErrorPolicy) *Reconciler {
	return &Reconciler{
		desired:  desired,
		actual:   actual,
		executor: executor,
		policy:   policy,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop on the given interval
// (spec §6's interval_ms). It returns immediately; the loop runs in its own
// goroutine until Stop is called or the error budget is exhausted.
func (r *Reconciler) Start(interval time.Duration) {
	r.wg.Add(1)
	go r.run(interval)
}

// Stop signals the loop to exit at the next cycle boundary and waits for it
// to do so.
func (r *Reconciler) Stop() {
	r.stopped.Store(true)
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) run(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	busy := false
	for {
		select {
		case <-ticker.C:
			// Reconciler ticks are dropped if the previous tick has not
			// completed (spec §5 backpressure rule); a single-threaded loop
			// body makes this automatic, but we guard explicitly in case a
			// future version runs cycles on a worker pool.
			if busy {
				continue
			}
			busy = true
			stop := r.tick()
			busy = false
			if stop {
				return
			}
		case <-r.stopCh:
			return
		}
	}
}

// tick runs exactly one reconciliation cycle and reports whether the loop
// should stop afterward (error budget exhausted, or StopOnFirstError hit).
func (r *Reconciler) tick() bool {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	_, err := r.Reconcile()
	metrics.ReconciliationCyclesTotal.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.consecutiveErrors++
		metrics.ReconciliationErrorsTotal.Inc()
		r.logger.Warn().Err(err).Int("consecutive_errors", r.consecutiveErrors).Msg("reconciliation cycle failed")

		if r.policy.StopOnFirstError {
			return true
		}
		if r.policy.MaxConsecutiveErrors > 0 && r.consecutiveErrors >= r.policy.MaxConsecutiveErrors {
			r.logger.Error().Msg("reconciler error budget exhausted, stopping")
			return true
		}
		return false
	}

	r.consecutiveErrors = 0
	return false
}

// Reconcile runs one compare-and-correct cycle synchronously: it computes
// the corrective commands, executes each, and returns the commands it
// issued along with the first execution error encountered (if any — later
// commands still run). converged is implied by a zero-length command slice.
func (r *Reconciler) Reconcile() ([]CorrectiveCommand, error) {
	desired, err := r.desired.Desired()
	if err != nil {
		return nil, beaderr.Wrap(beaderr.StoreFailed, "failed to read desired state", err)
	}
	actual := r.actual.Snapshot()

	commands := Diff(desired, actual)

	var firstErr error
	for _, cmd := range commands {
		if err := r.executor.Execute(cmd); err != nil {
			metrics.CorrectiveActionsTotal.WithLabelValues(string(cmd.Kind) + "_failed").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.CorrectiveActionsTotal.WithLabelValues(string(cmd.Kind)).Inc()
	}
	return commands, firstErr
}

// Diff computes the corrective commands needed to move actual toward
// desired: a bead desired but absent from the projection is a create; a
// bead present in the projection but no longer desired, and not already
// terminal, is a cancel. Output order is deterministic (ascending bead id)
// so repeated calls over unchanged input produce an identical command list.
func Diff(desired DesiredState, actual *projection.State) []CorrectiveCommand {
	var commands []CorrectiveCommand

	for id, d := range desired.Beads {
		if _, ok := actual.Beads[id]; !ok {
			commands = append(commands, CorrectiveCommand{Kind: CommandCreate, BeadID: id, WorkflowID: d.WorkflowID})
		}
	}

	for id, b := range actual.Beads {
		if _, wanted := desired.Beads[id]; wanted {
			continue
		}
		if b.State.Terminal() {
			continue
		}
		commands = append(commands, CorrectiveCommand{Kind: CommandCancel, BeadID: id, WorkflowID: b.WorkflowID})
	}

	sort.Slice(commands, func(i, j int) bool { return commands[i].BeadID < commands[j].BeadID })
	return commands
}
