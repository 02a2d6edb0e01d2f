package executor

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/utils"
)

func TestChannelRoundtrip(t *testing.T) {
	ch := NewChannel()

	inv := &Invocation{
		RequestID: "req-1",
		Payload:   json.RawMessage(`{"x":1}`),
	}

	resultCh := ch.Register("req-1")

	go func() {
		polled, err := ch.Poll(context.Background(), "inst-1")
		if err != nil || polled == nil {
			return
		}
		ch.Complete(&InvocationResult{RequestID: polled.RequestID, Result: "42"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	utils.AssertNil(t, ch.Submit(ctx, "inst-1", inv))

	select {
	case res := <-resultCh:
		utils.AssertEquals(t, "42", res.Result)
		utils.AssertEquals(t, "", res.FunctionError)
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestChannelPollTimeout(t *testing.T) {
	ch := NewChannel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	inv, err := ch.Poll(ctx, "inst-1")
	utils.AssertNil(t, err)
	if inv != nil {
		t.Fatal("expected nil invocation on poll timeout")
	}
}

func TestChannelLateCompletionDropped(t *testing.T) {
	ch := NewChannel()

	ch.Register("req-1")
	ch.Drop("req-1")

	delivered := ch.Complete(&InvocationResult{RequestID: "req-1", Result: "too late"})
	utils.AssertFalseMsg(t, delivered, "completion after Drop must be discarded")

	delivered = ch.Complete(&InvocationResult{RequestID: "unknown", Result: ""})
	utils.AssertFalse(t, delivered)
}

func TestChannelHandshake(t *testing.T) {
	ch := NewChannel()

	// no poll yet: handshake times out
	err := ch.WaitReady("inst-1", 20*time.Millisecond)
	utils.AssertTrue(t, errors.Is(err, ErrHandshakeTimeout))

	// a poll marks the instance ready, even if it times out without work
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ch.Poll(ctx, "inst-2")

	utils.AssertNil(t, ch.WaitReady("inst-2", 100*time.Millisecond))
}

func TestChannelFailInFlight(t *testing.T) {
	ch := NewChannel()

	resultCh := ch.Register("req-1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	utils.AssertNil(t, ch.Submit(ctx, "inst-1", &Invocation{RequestID: "req-1"}))

	// the container dies before posting a result: the waiting dispatcher
	// must be released with an unhandled error
	utils.AssertTrue(t, ch.FailInFlight("inst-1", `{"errorType": "Runtime.ContainerCrashed"}`))

	select {
	case res := <-resultCh:
		utils.AssertEquals(t, "req-1", res.RequestID)
		utils.AssertEquals(t, "Unhandled", res.FunctionError)
	case <-time.After(time.Second):
		t.Fatal("crash did not release the waiting dispatcher")
	}

	// nothing in flight anymore
	utils.AssertFalse(t, ch.FailInFlight("inst-1", ""))
}

func TestChannelSubmitBeforePoll(t *testing.T) {
	ch := NewChannel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// the dispatcher may submit before the container's first poll
	utils.AssertNil(t, ch.Submit(ctx, "inst-1", &Invocation{RequestID: "req-1"}))

	inv, err := ch.Poll(ctx, "inst-1")
	utils.AssertNil(t, err)
	utils.AssertNonNil(t, inv)
	utils.AssertEquals(t, "req-1", inv.RequestID)
}
