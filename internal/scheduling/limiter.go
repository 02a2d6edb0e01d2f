package scheduling

import (
	"sync"
	"time"

	"github.com/cumulusfn/cumulus/internal/function"
)

type verdict int

const (
	admitted verdict = iota
	enqueued
	throttledGlobal
	throttledFunction
)

type fnState struct {
	inFlight int
	queue    *FIFOQueue
}

// ConcurrencyLimiter enforces the global in-flight ceiling and per-function
// reserved concurrency. A request hitting a per-function ceiling waits in
// that function's FIFO queue; global saturation never queues, it throttles
// immediately.
type ConcurrencyLimiter struct {
	mu             sync.Mutex
	globalLimit    int
	queueCapacity  int
	globalInFlight int
	perFn          map[string]*fnState
}

func NewConcurrencyLimiter(globalLimit, queueCapacity int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		globalLimit:   globalLimit,
		queueCapacity: queueCapacity,
		perFn:         make(map[string]*fnState),
	}
}

func (l *ConcurrencyLimiter) state(funcName string) *fnState {
	st, ok := l.perFn[funcName]
	if !ok {
		st = &fnState{queue: NewFIFOQueue(l.queueCapacity)}
		l.perFn[funcName] = st
	}
	return st
}

// Admit decides the fate of an arriving request. On admitted, the request
// holds one global and one per-function slot until Release.
func (l *ConcurrencyLimiter) Admit(r *scheduledRequest) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.globalInFlight >= l.globalLimit {
		return throttledGlobal
	}

	st := l.state(r.Fun.Name)
	reserved := r.Fun.ReservedConcurrency
	if reserved != function.ReservedUnset && st.inFlight >= reserved {
		if st.queue != nil && st.queue.Enqueue(r) {
			return enqueued
		}
		return throttledFunction
	}

	st.inFlight++
	l.globalInFlight++
	r.admitted = true
	return admitted
}

// Release frees the slots of a completed request and hands them directly to
// the next queued request of the same function, if limits still allow.
// Queued requests whose deadline already passed are returned in expired and
// must be failed by the caller; they never held a slot.
func (l *ConcurrencyLimiter) Release(funcName string) (next *scheduledRequest, expired []*scheduledRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(funcName)
	st.inFlight--
	l.globalInFlight--

	if st.queue == nil {
		return nil, nil
	}

	now := time.Now()
	for {
		candidate := st.queue.Dequeue()
		if candidate == nil {
			return nil, expired
		}
		if now.After(candidate.Deadline) {
			expired = append(expired, candidate)
			continue
		}
		// the release freed a global slot, so the handoff always fits
		st.inFlight++
		l.globalInFlight++
		candidate.admitted = true
		return candidate, expired
	}
}

// InFlight reports the current global in-flight count.
func (l *ConcurrencyLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalInFlight
}

// QueueLen reports the number of requests waiting for the function.
func (l *ConcurrencyLimiter) QueueLen(funcName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.perFn[funcName]
	if !ok || st.queue == nil {
		return 0
	}
	return st.queue.Len()
}
