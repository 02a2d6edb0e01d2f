package scheduling

import (
	"testing"
	"time"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func limitedReq(name string, reserved int, deadline time.Time) *scheduledRequest {
	f := &function.Function{Name: name, ReservedConcurrency: reserved}
	return &scheduledRequest{
		Request:         &function.Request{Fun: f, Deadline: deadline},
		decisionChannel: make(chan schedDecision, 1),
	}
}

func TestLimiterGlobalCeiling(t *testing.T) {
	l := NewConcurrencyLimiter(2, 4)
	far := time.Now().Add(time.Minute)

	utils.AssertEquals(t, admitted, l.Admit(limitedReq("a", function.ReservedUnset, far)))
	utils.AssertEquals(t, admitted, l.Admit(limitedReq("b", function.ReservedUnset, far)))

	// global saturation throttles immediately, it never queues
	utils.AssertEquals(t, throttledGlobal, l.Admit(limitedReq("c", function.ReservedUnset, far)))
	utils.AssertEquals(t, 2, l.InFlight())
}

func TestLimiterReservedCeilingQueues(t *testing.T) {
	l := NewConcurrencyLimiter(10, 2)
	far := time.Now().Add(time.Minute)

	utils.AssertEquals(t, admitted, l.Admit(limitedReq("f", 1, far)))
	utils.AssertEquals(t, enqueued, l.Admit(limitedReq("f", 1, far)))
	utils.AssertEquals(t, enqueued, l.Admit(limitedReq("f", 1, far)))
	// queue full now
	utils.AssertEquals(t, throttledFunction, l.Admit(limitedReq("f", 1, far)))
	utils.AssertEquals(t, 2, l.QueueLen("f"))
}

func TestLimiterReleaseHandsSlotToQueued(t *testing.T) {
	l := NewConcurrencyLimiter(10, 4)
	far := time.Now().Add(time.Minute)

	first := limitedReq("f", 1, far)
	queued := limitedReq("f", 1, far)
	utils.AssertEquals(t, admitted, l.Admit(first))
	utils.AssertEquals(t, enqueued, l.Admit(queued))

	next, expired := l.Release("f")
	utils.AssertEquals(t, 0, len(expired))
	if next != queued {
		t.Fatal("released slot must go to the queued request")
	}
	utils.AssertTrue(t, next.admitted)
	utils.AssertEquals(t, 1, l.InFlight())
}

func TestLimiterHandoffAtGlobalCeiling(t *testing.T) {
	l := NewConcurrencyLimiter(1, 4)
	far := time.Now().Add(time.Minute)

	first := limitedReq("f", 1, far)
	queued := limitedReq("f", 1, far)
	utils.AssertEquals(t, admitted, l.Admit(first))
	utils.AssertEquals(t, enqueued, l.Admit(queued))

	// the node is globally saturated, but a release always frees exactly the
	// room its handoff needs
	next, expired := l.Release("f")
	utils.AssertEquals(t, 0, len(expired))
	if next != queued {
		t.Fatal("the freed slot must go to the queued request")
	}
	utils.AssertTrue(t, next.admitted)
	utils.AssertEquals(t, 1, l.InFlight())
	utils.AssertEquals(t, 0, l.QueueLen("f"))
}

func TestLimiterExpiredQueuedRequests(t *testing.T) {
	l := NewConcurrencyLimiter(10, 4)
	far := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Second)

	utils.AssertEquals(t, admitted, l.Admit(limitedReq("f", 1, far)))
	stale := limitedReq("f", 1, past)
	fresh := limitedReq("f", 1, far)
	utils.AssertEquals(t, enqueued, l.Admit(stale))
	utils.AssertEquals(t, enqueued, l.Admit(fresh))

	next, expired := l.Release("f")
	utils.AssertEquals(t, 1, len(expired))
	if expired[0] != stale {
		t.Fatal("stale request should have been expired")
	}
	if next != fresh {
		t.Fatal("fresh request should have been dispatched")
	}
}

func TestLimiterReleaseWithEmptyQueue(t *testing.T) {
	l := NewConcurrencyLimiter(10, 4)
	far := time.Now().Add(time.Minute)

	utils.AssertEquals(t, admitted, l.Admit(limitedReq("f", function.ReservedUnset, far)))
	next, expired := l.Release("f")
	if next != nil {
		t.Fatal("nothing was queued, nothing to dispatch")
	}
	utils.AssertEquals(t, 0, len(expired))
	utils.AssertEquals(t, 0, l.InFlight())
}
