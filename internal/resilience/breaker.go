package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type BreakerSettings struct {
	Name string

	// WindowSize is the number of most recent outcomes the failure ratio is
	// computed over.
	WindowSize int

	// MinCalls is the number of outcomes the window must hold before the
	// breaker may trip.
	MinCalls int

	// FailureRatio trips the breaker once failures/recorded reaches it.
	FailureRatio float64

	// CoolDown is how long the breaker stays open before admitting a trial.
	CoolDown time.Duration

	Clock Clock

	// OnStateChange runs with the breaker locked and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// Counts is a snapshot of the breaker's window and lifetime counters.
type Counts struct {
	Recorded  int
	Failures  int
	Successes uint64
	Failed    uint64
	Rejected  uint64
}

// CircuitBreaker is a count-based three-state breaker. It is safe for
// concurrent use.
type CircuitBreaker struct {
	settings BreakerSettings

	mu         sync.Mutex
	state      State
	generation uint64
	window     []bool
	next       int
	recorded   int
	failures   int
	openedAt   time.Time
	trial      bool
	counts     Counts
}

func NewCircuitBreaker(s BreakerSettings) *CircuitBreaker {
	if s.WindowSize <= 0 {
		s.WindowSize = 10
	}
	if s.MinCalls <= 0 || s.MinCalls > s.WindowSize {
		s.MinCalls = s.WindowSize
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = 0.5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 5 * time.Second
	}
	if s.Clock == nil {
		s.Clock = SystemClock
	}
	return &CircuitBreaker{
		settings: s,
		window:   make([]bool, s.WindowSize),
	}
}

func (b *CircuitBreaker) Name() string { return b.settings.Name }

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *CircuitBreaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.counts
	c.Recorded = b.recorded
	c.Failures = b.failures
	return c
}

// Allow asks for permission to make one call. On success the returned done
// func must be called exactly once with the call's outcome.
func (b *CircuitBreaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case StateOpen:
		b.counts.Rejected++
		return nil, ErrBreakerOpen
	case StateHalfOpen:
		if b.trial {
			b.counts.Rejected++
			return nil, ErrBreakerOpen
		}
		b.trial = true
	}

	gen := b.generation
	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.record(gen, success) })
	}, nil
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	success := false
	defer func() { done(success) }()

	err = fn(ctx)
	success = err == nil
	return err
}

func (b *CircuitBreaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.counts.Successes++
	} else {
		b.counts.Failed++
	}

	// outcome of a call admitted under an earlier state
	if gen != b.generation {
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		if success {
			b.transition(StateClosed)
		} else {
			b.transition(StateOpen)
		}
	case StateClosed:
		b.push(!success)
		if b.recorded >= b.settings.MinCalls &&
			float64(b.failures)/float64(b.recorded) >= b.settings.FailureRatio {
			b.transition(StateOpen)
		}
	}
}

func (b *CircuitBreaker) push(failed bool) {
	if b.recorded == len(b.window) {
		if b.window[b.next] {
			b.failures--
		}
	} else {
		b.recorded++
	}
	b.window[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.window)
}

func (b *CircuitBreaker) maybeHalfOpen() {
	if b.state == StateOpen && !b.settings.Clock.Now().Before(b.openedAt.Add(b.settings.CoolDown)) {
		b.transition(StateHalfOpen)
	}
}

// transition must be called with b.mu held.
func (b *CircuitBreaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.trial = false

	switch to {
	case StateOpen:
		b.openedAt = b.settings.Clock.Now()
	case StateClosed:
		for i := range b.window {
			b.window[i] = false
		}
		b.next, b.recorded, b.failures = 0, 0, 0
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
