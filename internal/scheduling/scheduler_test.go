package scheduling

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/executor"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/node"
	"github.com/cumulusfn/cumulus/utils"
)

// The harness replaces the container manager with a fake factory whose
// containers are emulated by goroutines speaking the runtime channel, so the
// whole scheduling path (limiter, pool, cold start, execution) runs for real.
var (
	testFactory *container.FakeFactory
	testChannel *executor.Channel
	testAudit   = &function.MemoryAuditSink{}

	runtimeDelayMs atomic.Int64
	parallelNow    atomic.Int32
	parallelPeak   atomic.Int32
)

func instanceIDFrom(opts *container.ContainerOptions) string {
	for _, e := range opts.Env {
		if strings.HasPrefix(e, "INSTANCE_ID=") {
			return strings.TrimPrefix(e, "INSTANCE_ID=")
		}
	}
	return ""
}

// fakeRuntime emulates the in-container client: it polls for work, sleeps for
// the configured handler duration and posts a result.
func fakeRuntime(instanceID string) {
	for {
		inv, err := testChannel.Poll(context.Background(), instanceID)
		if err != nil || inv == nil {
			continue
		}

		cur := parallelNow.Add(1)
		for {
			peak := parallelPeak.Load()
			if cur <= peak || parallelPeak.CompareAndSwap(peak, cur) {
				break
			}
		}
		if d := runtimeDelayMs.Load(); d > 0 {
			time.Sleep(time.Duration(d) * time.Millisecond)
		}
		parallelNow.Add(-1)

		testChannel.Complete(&executor.InvocationResult{
			RequestID: inv.RequestID,
			Result:    `{"ok": true}`,
		})
	}
}

func TestMain(m *testing.M) {
	viper.Set(config.POOL_MEMORY_MB, 8192)
	viper.Set(config.POOL_CPUS, 64.0)
	viper.Set(config.IDLE_SOFT_MS, 600000)
	viper.Set(config.IDLE_HARD_MS, 6000000)
	viper.Set(config.HANDSHAKE_TIMEOUT_MS, 1000)

	testFactory = container.NewFakeFactory()
	testFactory.CreateHook = func(id container.ContainerID, opts *container.ContainerOptions) {
		go fakeRuntime(instanceIDFrom(opts))
	}
	container.SetFactory(testFactory)

	testChannel = executor.NewChannel()
	go Run(&DefaultPolicy{}, testChannel, testAudit)
	time.Sleep(100 * time.Millisecond)
	go node.WatchContainerEvents(context.Background())

	os.Exit(m.Run())
}

func resetHarness(delayMs int64) {
	runtimeDelayMs.Store(delayMs)
	parallelNow.Store(0)
	parallelPeak.Store(0)
}

func schedFunction(name string, reserved int) *function.Function {
	return &function.Function{
		Name:                name,
		MemoryMB:            128,
		CPUDemand:           1.0,
		Runtime:             container.CUSTOM_RUNTIME,
		CustomImage:         "example/runtime:latest",
		Handler:             "handler.main",
		TimeoutSec:          5,
		ReservedConcurrency: reserved,
	}
}

var reqCounter atomic.Int64

func invoke(fun *function.Function, timeout time.Duration) (*function.Request, error) {
	now := time.Now()
	r := &function.Request{
		ReqId:    fmt.Sprintf("test-req-%d", reqCounter.Add(1)),
		Fun:      fun,
		Version:  function.LatestVersion,
		Params:   map[string]interface{}{"n": 1},
		Arrival:  now,
		Deadline: now.Add(timeout),
	}
	return r, SubmitRequest(r)
}

// containersFor counts the fake containers created for a function.
func containersFor(name string) []container.ContainerID {
	prefix := "cumulus-" + name + "-"
	var ids []container.ContainerID
	for id, opts := range testFactory.Created {
		if strings.HasPrefix(opts.Name, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

func auditFor(name string) []function.ExecutionRecord {
	var out []function.ExecutionRecord
	for _, rec := range testAudit.Snapshot() {
		if rec.Function == name {
			out = append(out, rec)
		}
	}
	return out
}

func TestWarmReuse(t *testing.T) {
	resetHarness(10)
	fun := schedFunction("warm-fn", function.ReservedUnset)

	first, err := invoke(fun, 2*time.Second)
	utils.AssertNil(t, err)
	utils.AssertFalseMsg(t, first.ExecReport.IsWarmStart, "first invocation must cold start")

	second, err := invoke(fun, 2*time.Second)
	utils.AssertNil(t, err)
	utils.AssertTrueMsg(t, second.ExecReport.IsWarmStart, "second invocation should reuse the warm container")

	utils.AssertEqualsMsg(t, 1, len(containersFor("warm-fn")), "one container should serve both invocations")
	utils.AssertEquals(t, function.LatestVersion, second.ExecReport.ExecutedVersion)
	utils.AssertTrue(t, second.ExecReport.BilledDurationMs >= 1)
}

func TestReservedConcurrencyCeiling(t *testing.T) {
	resetHarness(50)
	fun := schedFunction("capped-fn", 2)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = invoke(fun, 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		utils.AssertNilMsg(t, err, fmt.Sprintf("invocation %d failed", i))
	}
	utils.AssertTrueMsg(t, parallelPeak.Load() <= 2, "reserved ceiling of 2 was exceeded")
	utils.AssertEquals(t, 5, len(auditFor("capped-fn")))
}

func TestInvocationTimeout(t *testing.T) {
	resetHarness(500)
	fun := schedFunction("slow-fn", function.ReservedUnset)

	r, err := invoke(fun, 100*time.Millisecond)
	utils.AssertTrueMsg(t, errors.Is(err, ErrTimeout), "deadline overrun must fail with a timeout")
	utils.AssertEquals(t, "Unhandled", r.ExecReport.FunctionError)
	utils.AssertTrue(t, strings.Contains(r.ExecReport.Result, "TaskTimedOut"))

	// the container may still be running the handler, it must not be reused
	ids := containersFor("slow-fn")
	utils.AssertEquals(t, 1, len(ids))
	utils.AssertTrue(t, testFactory.Removed[ids[0]])

	records := auditFor("slow-fn")
	utils.AssertEquals(t, 1, len(records))
	utils.AssertEquals(t, function.OutcomeTimeout, records[0].Outcome)
}

func TestAuditTrail(t *testing.T) {
	resetHarness(10)
	fun := schedFunction("audited-fn", function.ReservedUnset)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		r, err := invoke(fun, 2*time.Second)
		utils.AssertNil(t, err)
		seen[r.ReqId] = true
	}

	records := auditFor("audited-fn")
	utils.AssertEqualsMsg(t, 3, len(records), "every dispatch must be audited exactly once")
	for _, rec := range records {
		utils.AssertTrue(t, seen[rec.ReqId])
		utils.AssertEquals(t, function.OutcomeSuccess, rec.Outcome)
		utils.AssertTrue(t, rec.BilledDurationMs >= 1)
		utils.AssertFalse(t, rec.EndTime.Before(rec.StartTime))
	}
	utils.AssertTrueMsg(t, records[0].ColdStart, "first dispatch was a cold start")
	utils.AssertFalseMsg(t, records[1].ColdStart, "warm dispatches must not be flagged as cold")
}

func TestContainerCrashFailsInvocationFast(t *testing.T) {
	resetHarness(10000) // the handler hangs far beyond any deadline used here
	fun := schedFunction("crash-fn", function.ReservedUnset)

	go func() {
		// wait until the handler is executing, then kill its container
		waitUntil := time.Now().Add(2 * time.Second)
		for parallelNow.Load() == 0 && time.Now().Before(waitUntil) {
			time.Sleep(10 * time.Millisecond)
		}
		ids := containersFor("crash-fn")
		if len(ids) == 1 {
			testFactory.EmitEvent(container.ContainerEvent{ID: ids[0], Type: "die", ExitCode: 137})
		}
	}()

	started := time.Now()
	r, err := invoke(fun, 5*time.Second)
	elapsed := time.Since(started)

	utils.AssertNil(t, err)
	utils.AssertEquals(t, "Unhandled", r.ExecReport.FunctionError)
	utils.AssertTrue(t, strings.Contains(r.ExecReport.Result, "ContainerCrashed"))
	utils.AssertTrueMsg(t, elapsed < 3*time.Second,
		"a crash must fail the invocation promptly, not at its deadline")

	// the crashed container must not be reused
	ids := containersFor("crash-fn")
	utils.AssertEquals(t, 1, len(ids))
	utils.AssertTrue(t, testFactory.Removed[ids[0]])
}
