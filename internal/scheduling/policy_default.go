package scheduling

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/metrics"
	"github.com/cumulusfn/cumulus/internal/node"
)

// DefaultPolicy admits requests through the concurrency limiter, prefers
// warm containers and falls back to cold starts. Requests hitting a
// per-function ceiling wait in the limiter's FIFO queue; global saturation
// throttles immediately.
type DefaultPolicy struct {
	limiter *ConcurrencyLimiter
}

func (p *DefaultPolicy) Init() {
	globalLimit := config.GetInt(config.GLOBAL_CONCURRENCY, 100)
	queueCapacity := config.GetInt(config.QUEUE_CAPACITY, 32)
	p.limiter = NewConcurrencyLimiter(globalLimit, queueCapacity)
}

func (p *DefaultPolicy) OnArrival(r *scheduledRequest) {
	switch p.limiter.Admit(r) {
	case throttledGlobal:
		log.Debugf("Throttling %s: global concurrency limit reached", r)
		metrics.Throttles.Inc()
		dropRequest(r)
	case throttledFunction:
		log.Debugf("Throttling %s: reserved concurrency reached and queue full", r)
		metrics.Throttles.Inc()
		dropRequest(r)
	case enqueued:
		log.Debugf("Queued %s (depth=%d)", r, p.limiter.QueueLen(r.Fun.Name))
		r.ExecReport.SchedAction = "queued"
	case admitted:
		p.dispatch(r)
	}
}

// OnCompletion releases the finished request's slots and hands them to the
// next queued request of the same function.
func (p *DefaultPolicy) OnCompletion(r *scheduledRequest) {
	next, expired := p.limiter.Release(r.Fun.Name)
	for _, e := range expired {
		log.Debugf("Queued request %s expired before dispatch", e)
		failRequest(e, ErrTimeout)
	}
	if next != nil {
		p.dispatch(next)
	}
}

func (p *DefaultPolicy) dispatch(r *scheduledRequest) {
	ci, err := node.AcquireWarmContainer(r.Fun, r.Version)
	if err == nil {
		if r.ExecReport.SchedAction == "" {
			r.ExecReport.SchedAction = "warm"
		}
		execLocally(r, ci, true)
		return
	}

	if errors.Is(err, node.NoWarmFoundErr) {
		if r.ExecReport.SchedAction == "" {
			r.ExecReport.SchedAction = "cold"
		}
		if coldErr := handleColdStart(r); coldErr != nil {
			failRequest(r, coldErr)
		}
		return
	}

	if errors.Is(err, node.OutOfResourcesErr) {
		failRequest(r, node.OutOfResourcesErr)
		return
	}

	failRequest(r, ErrInternal)
}
