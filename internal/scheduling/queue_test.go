package scheduling

import (
	"testing"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func reqFor(name string) *scheduledRequest {
	f := &function.Function{Name: name}
	return &scheduledRequest{Request: &function.Request{Fun: f}}
}

func TestQueueOrder(t *testing.T) {
	q := NewFIFOQueue(3)

	r1 := reqFor("f1")
	r2 := reqFor("f2")
	r3 := reqFor("f3")

	utils.AssertTrue(t, q.Enqueue(r1))
	utils.AssertTrue(t, q.Enqueue(r2))
	utils.AssertTrue(t, q.Enqueue(r3))
	utils.AssertEquals(t, 3, q.Len())

	utils.AssertEquals(t, "f1", q.Dequeue().Fun.Name)
	utils.AssertEquals(t, "f2", q.Dequeue().Fun.Name)
	utils.AssertEquals(t, "f3", q.Dequeue().Fun.Name)
	utils.AssertEquals(t, 0, q.Len())
	if q.Dequeue() != nil {
		t.Fatal("dequeue on empty queue should return nil")
	}
}

func TestQueueFull(t *testing.T) {
	q := NewFIFOQueue(2)

	utils.AssertTrue(t, q.Enqueue(reqFor("f1")))
	utils.AssertTrue(t, q.Enqueue(reqFor("f2")))
	utils.AssertFalseMsg(t, q.Enqueue(reqFor("f3")), "queue beyond capacity must reject")
	utils.AssertEquals(t, 2, q.Len())
}

func TestQueueWraparound(t *testing.T) {
	q := NewFIFOQueue(2)

	q.Enqueue(reqFor("f1"))
	q.Enqueue(reqFor("f2"))
	utils.AssertEquals(t, "f1", q.Dequeue().Fun.Name)
	utils.AssertTrue(t, q.Enqueue(reqFor("f3")))
	utils.AssertEquals(t, "f2", q.Dequeue().Fun.Name)
	utils.AssertEquals(t, "f3", q.Dequeue().Fun.Name)
}
