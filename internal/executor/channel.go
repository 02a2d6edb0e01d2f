package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"golang.org/x/net/context"
)

// ErrHandshakeTimeout is returned when a container never issues its first
// poll within the allowed startup window.
var ErrHandshakeTimeout = errors.New("container did not complete the runtime handshake")

// mailbox is the per-container side of the runtime channel. The invocations
// channel has capacity one: a container handles a single invocation at a
// time, and a second Submit must not sneak in behind an unconsumed one.
type mailbox struct {
	invocations chan *Invocation
	readyOnce   sync.Once
	ready       chan struct{}
}

func (m *mailbox) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// Channel mediates between the dispatcher and the in-container clients. The
// dispatcher submits invocations to a container's mailbox; the container
// long-polls its mailbox and posts results back, matched to the waiting
// dispatcher by request id.
type Channel struct {
	mailboxes *hashmap.Map[string, *mailbox]
	pending   *hashmap.Map[string, chan *InvocationResult]

	// inFlight maps a container to the request it is currently serving, so
	// a container crash can fail that request without waiting for the
	// deadline.
	inFlight *hashmap.Map[string, string]
}

func NewChannel() *Channel {
	return &Channel{
		mailboxes: hashmap.New[string, *mailbox](),
		pending:   hashmap.New[string, chan *InvocationResult](),
		inFlight:  hashmap.New[string, string](),
	}
}

// mailboxFor returns the container's mailbox, creating it on first use. Both
// the polling container and the submitting dispatcher may arrive first, so
// creation is get-or-insert on either path.
func (c *Channel) mailboxFor(instanceID string) *mailbox {
	mb := &mailbox{
		invocations: make(chan *Invocation, 1),
		ready:       make(chan struct{}),
	}
	actual, _ := c.mailboxes.GetOrInsert(instanceID, mb)
	return actual
}

// Poll blocks until an invocation is available for the container or ctx
// expires. A nil Invocation with nil error means the long poll timed out and
// the container should poll again.
func (c *Channel) Poll(ctx context.Context, instanceID string) (*Invocation, error) {
	mb := c.mailboxFor(instanceID)
	mb.markReady()

	select {
	case inv := <-mb.invocations:
		return inv, nil
	case <-ctx.Done():
		return nil, nil
	}
}

// WaitReady blocks until the container has issued its first poll. This is
// the startup handshake: a container that never polls is considered failed.
func (c *Channel) WaitReady(instanceID string, timeout time.Duration) error {
	mb := c.mailboxFor(instanceID)
	select {
	case <-mb.ready:
		return nil
	case <-time.After(timeout):
		return ErrHandshakeTimeout
	}
}

// Submit places an invocation in the container's mailbox.
func (c *Channel) Submit(ctx context.Context, instanceID string, inv *Invocation) error {
	mb := c.mailboxFor(instanceID)
	select {
	case mb.invocations <- inv:
		c.inFlight.Set(instanceID, inv.RequestID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register allocates the result slot for a request. The caller must either
// receive from the returned channel or call Drop.
func (c *Channel) Register(reqID string) <-chan *InvocationResult {
	ch := make(chan *InvocationResult, 1)
	c.pending.Set(reqID, ch)
	return ch
}

// Drop discards the result slot of a request. Any completion arriving later
// is dropped by Complete.
func (c *Channel) Drop(reqID string) {
	c.pending.Del(reqID)
}

// Complete delivers a result to the dispatcher waiting on the request.
// Returns false when nobody is waiting anymore, i.e. the completion arrived
// after the deadline and must be discarded.
func (c *Channel) Complete(res *InvocationResult) bool {
	ch, ok := c.pending.Get(res.RequestID)
	if !ok {
		return false
	}
	c.pending.Del(res.RequestID)
	select {
	case ch <- res:
		return true
	default:
		return false
	}
}

// FailInFlight completes the container's current invocation, if any, with an
// unhandled error. Called when a container dies mid-execution. Returns false
// when the container had no invocation pending anymore.
func (c *Channel) FailInFlight(instanceID, body string) bool {
	reqID, ok := c.inFlight.Get(instanceID)
	if !ok {
		return false
	}
	c.inFlight.Del(instanceID)
	return c.Complete(&InvocationResult{
		RequestID:     reqID,
		Result:        body,
		FunctionError: "Unhandled",
	})
}

// Deregister removes a container's mailbox. Called when the container leaves
// the pool for good.
func (c *Channel) Deregister(instanceID string) {
	c.mailboxes.Del(instanceID)
	c.inFlight.Del(instanceID)
}
