package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/metrics"
)

// Command is a fire-and-forget mailbox entry: no reply port, and handler
// errors are logged rather than surfaced to the sender.
type Command struct {
	Kind    string
	Payload any
}

// Query is a request/reply mailbox entry: the reply carries either a value
// or a business error, never a panic.
type Query struct {
	Kind    string
	Payload any
	reply   chan queryReply
}

type queryReply struct {
	Value any
	Err   error
}

// Handler is the actor's business logic for one generation of its state.
// HandleCommand must not panic for expected errors; it should log and
// return. HandleQuery returns a business error through its return value,
// never by panicking.
type Handler interface {
	HandleCommand(Command)
	HandleQuery(Query) (any, error)
}

// Factory builds a fresh Handler, called once at actor start and again on
// every supervised restart so restarted actors begin from clean state.
type Factory func() Handler

// Actor owns one mailbox and runs handler logic on a single goroutine, so a
// Handler implementation never needs its own locking.
type Actor struct {
	name         string
	factory      Factory
	supervisable bool
	maxRestarts  int

	commands chan Command
	queries  chan Query

	logger zerolog.Logger
	stopCh chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	stopping   bool
	terminated atomic.Bool
}

// Option configures an Actor at construction.
type Option func(*Actor)

// Supervisable marks the actor for restart-on-panic, up to maxRestarts
// attempts, after which failures escalate (logged at error level; the actor
// stops accepting work).
func Supervisable(maxRestarts int) Option {
	return func(a *Actor) {
		a.supervisable = true
		a.maxRestarts = maxRestarts
	}
}

// WithMailboxSize sets the buffered capacity of the command and query
// channels. The default is 32.
func WithMailboxSize(n int) Option {
	return func(a *Actor) {
		a.commands = make(chan Command, n)
		a.queries = make(chan Query, n)
	}
}

// New constructs an Actor named name, running handlers built by factory.
func New(name string, factory Factory, opts ...Option) *Actor {
	a := &Actor{
		name:     name,
		factory:  factory,
		commands: make(chan Command, 32),
		queries:  make(chan Query, 32),
		logger:   log.WithComponent("actor").With().Str("actor", name).Logger(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the actor's mailbox loop in its own goroutine.
func (a *Actor) Start() {
	a.wg.Add(1)
	go a.runSupervised()
}

// Tell sends a fire-and-forget command. It returns false if the actor has
// started shutting down and the command was dropped.
func (a *Actor) Tell(cmd Command) bool {
	a.mu.Lock()
	stopping := a.stopping
	a.mu.Unlock()
	if stopping || a.terminated.Load() {
		return false
	}
	select {
	case a.commands <- cmd:
		return true
	case <-a.done:
		return false
	}
}

// Ask sends a query and blocks for its reply, or until ctx is done.
func (a *Actor) Ask(ctx context.Context, q Query) (any, error) {
	if a.terminated.Load() {
		return nil, fmt.Errorf("actor %s is stopped", a.name)
	}
	q.reply = make(chan queryReply, 1)

	select {
	case a.queries <- q:
	case <-a.done:
		return nil, fmt.Errorf("actor %s is stopped", a.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-q.reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop signals graceful shutdown: no new commands are accepted, the queue
// of already-enqueued commands and queries is drained, then the loop exits.
// Stop blocks until drain completes.
func (a *Actor) Stop() {
	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Actor) runSupervised() {
	defer a.wg.Done()
	defer a.terminated.Store(true)
	defer close(a.done)

	restarts := 0
	for {
		crashed := a.runOnce()
		if !crashed {
			return
		}
		if !a.supervisable || restarts >= a.maxRestarts {
			a.logger.Error().Int("restarts", restarts).Msg("actor failure escalated, not restarting")
			return
		}
		restarts++
		metrics.ActorRestartsTotal.WithLabelValues(a.name).Inc()
		a.logger.Warn().Int("restart_count", restarts).Msg("restarting actor with fresh state")
	}
}

// runOnce runs the mailbox loop with a fresh Handler until it panics, is
// told to stop and drains, or its channels are closed. It returns true if
// it exited because of a panic (candidate for supervised restart).
func (a *Actor) runOnce() (crashed bool) {
	handler := a.factory()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("actor handler panicked")
			crashed = true
		}
	}()

	for {
		select {
		case cmd := <-a.commands:
			handler.HandleCommand(cmd)
		case q := <-a.queries:
			value, err := handler.HandleQuery(q)
			q.reply <- queryReply{Value: value, Err: err}
		case <-a.stopCh:
			a.drain(handler)
			return false
		}
	}
}

// drain flushes whatever commands and queries are already enqueued before
// the actor fully stops, so callers waiting on Ask always get a reply.
func (a *Actor) drain(handler Handler) {
	for {
		select {
		case cmd := <-a.commands:
			handler.HandleCommand(cmd)
		case q := <-a.queries:
			value, err := handler.HandleQuery(q)
			q.reply <- queryReply{Value: value, Err: err}
		default:
			return
		}
	}
}
