// Package timer defines the Timer capability the core consumes and a
// concrete implementation. Cancelling an already-fired or
// already-cancelled timer must be a no-op, matching PriFi's own
// defer/TimeTrack discipline around measured round spans.
package timer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ID identifies one registered timer.
type ID uint64

// Service is the Timer capability: register(delay_ms,
// callback) -> timer_id, cancel(timer_id).
type Service interface {
	Register(delayMs int, callback func()) ID
	Cancel(id ID)
}

// RealService backs the Timer capability with time.AfterFunc, posting
// callbacks back onto the caller-supplied dispatch function so they run
// on the owning meter's single-threaded context.
type RealService struct {
	dispatch func(func())

	mu sync.Mutex
	nextID ID
	timers map[ID]*time.Timer
	limiter *rate.Limiter // bounds how often a stalled predecessor is re-pinged
}

// NewRealService builds a Service that posts fired callbacks through
// dispatch (typically a channel send into the owning actor's mailbox).
func NewRealService(dispatch func(func())) *RealService {
	return &RealService{
		dispatch: dispatch,
		timers: make(map[ID]*time.Timer),
		limiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
	}
}

// Register arms a one-shot timer.
func (s *RealService) Register(delayMs int, callback func()) ID {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	t := time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		s.dispatch(callback)
	})

	s.mu.Lock()
	s.timers[id] = t
	s.mu.Unlock()
	return id
}

// Cancel stops a timer. Cancelling an unknown, already-fired, or
// already-cancelled id is a no-op.
func (s *RealService) Cancel(id ID) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// AllowRepingStalledPredecessor rate-limits how often the round driver
// re-pings a predecessor that has answered its ping but has not yet
// sent its round-final message, so a
// pathological round-timeout setting can't turn into a busy loop.
func (s *RealService) AllowRepingStalledPredecessor() bool {
	return s.limiter.Allow()
}
