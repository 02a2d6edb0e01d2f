package scheduling

import (
	"errors"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/executor"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/metrics"
	"github.com/cumulusfn/cumulus/internal/node"
)

var requests chan *scheduledRequest
var completions chan *scheduledRequest

var execChannel *executor.Channel
var auditSink function.AuditSink

// Run starts the scheduler event loop. It owns node resources, the idle
// watchdog and the runtime channel wiring.
func Run(p Policy, ch *executor.Channel, sink function.AuditSink) {
	requests = make(chan *scheduledRequest, 500)
	completions = make(chan *scheduledRequest, 500)
	execChannel = ch
	auditSink = sink

	availableCores := runtime.NumCPU()
	node.InitResources(
		int64(config.GetInt(config.POOL_MEMORY_MB, 1024)),
		config.GetFloat(config.POOL_CPUS, float64(availableCores)))
	log.Infof("Current node resources: %v", &node.Resources)

	if container.GetFactory() == nil {
		container.InitFactory()
	}

	// the runtime channel must forget mailboxes of removed instances
	node.OnInstanceRemoved = ch.Deregister

	// a crashed container fails its in-flight invocation right away instead
	// of letting the dispatcher wait out the deadline
	node.OnInstanceCrashed = func(instanceID string) {
		ch.FailInFlight(instanceID,
			`{"errorMessage": "container exited unexpectedly during execution", "errorType": "Runtime.ContainerCrashed"}`)
	}

	// watchdog periodically stops and removes idle warm containers
	node.StartWatchdog()

	p.Init()

	log.Info("Scheduler started.")

	var r *scheduledRequest
	for {
		select {
		case r = <-requests:
			go p.OnArrival(r)
		case r = <-completions:
			go p.OnCompletion(r)
		}
	}
}

// SubmitRequest submits a newly arrived request for scheduling and
// execution. It blocks until the request reaches a terminal outcome; the
// outcome is recorded in the audit log exactly once, here.
func SubmitRequest(r *function.Request) error {
	log.Debugf("New request for '%s' (version %s)", r.Fun.Name, r.Version)
	metrics.RequestsArrived.Inc()
	node.Resources.Lock()
	node.Resources.RequestsCount++
	node.Resources.Unlock()

	schedRequest := &scheduledRequest{
		Request:         r,
		decisionChannel: make(chan schedDecision, 1),
	}

	select { // non-blocking send: an unresponsive scheduler throttles
	case requests <- schedRequest:
	case <-time.After(time.Until(r.Deadline)):
		return finalize(schedRequest, ErrThrottled)
	}

	decision, ok := <-schedRequest.decisionChannel
	if !ok {
		return finalize(schedRequest, ErrInternal)
	}

	if decision.action == SCHED_FAIL {
		return finalize(schedRequest, decision.err)
	}

	err := Execute(decision.instance, schedRequest)
	return finalize(schedRequest, err)
}

// SubmitAsyncRequest schedules a request in the background and publishes
// its result for later polling.
func SubmitAsyncRequest(r *function.Request) {
	go func() {
		err := SubmitRequest(r)
		resp := function.Response{Success: err == nil, ExecutionReport: r.ExecReport}
		PublishAsyncResponse(r.ReqId, resp)
	}()
}

// finalize records the terminal outcome of a request and returns any slots
// it held to the limiter through the completions channel.
func finalize(r *scheduledRequest, err error) error {
	now := time.Now()
	outcome := outcomeOf(r, err)
	metrics.CountInvocation(r.Fun.Name, string(outcome))

	if auditSink != nil {
		rec := function.ExecutionRecord{
			ReqId:            r.ReqId,
			Function:         r.Fun.Name,
			Version:          r.Version,
			StartTime:        r.Arrival,
			EndTime:          now,
			DurationMs:       int64(r.ExecReport.Duration * 1000),
			BilledDurationMs: r.ExecReport.BilledDurationMs,
			Outcome:          outcome,
			ColdStart:        !r.ExecReport.IsWarmStart && outcome != function.OutcomeThrottled,
		}
		if auditErr := auditSink.RecordExecution(rec); auditErr != nil {
			log.Warnf("Could not record execution %s: %v", r.ReqId, auditErr)
		}
	}

	if r.admitted {
		completions <- r
	}
	return err
}

func outcomeOf(r *scheduledRequest, err error) function.Outcome {
	switch {
	case err == nil && r.ExecReport.FunctionError != "":
		return function.OutcomeHandledError
	case err == nil:
		return function.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return function.OutcomeTimeout
	case errors.Is(err, ErrThrottled), errors.Is(err, node.OutOfResourcesErr):
		return function.OutcomeThrottled
	case errors.Is(err, ErrNotFound):
		return function.OutcomeNotFound
	default:
		return function.OutcomeInternalError
	}
}

// RecordRejection audits a request that never reached the scheduler, e.g.
// an invocation of an unknown function.
func RecordRejection(reqId, funcName, version string, arrival time.Time, outcome function.Outcome) {
	metrics.CountInvocation(funcName, string(outcome))
	if auditSink == nil {
		return
	}
	rec := function.ExecutionRecord{
		ReqId:     reqId,
		Function:  funcName,
		Version:   version,
		StartTime: arrival,
		EndTime:   time.Now(),
		Outcome:   outcome,
	}
	if err := auditSink.RecordExecution(rec); err != nil {
		log.Warnf("Could not record rejection %s: %v", reqId, err)
	}
}

// handleColdStart creates, starts and handshakes a fresh container, then
// dispatches the request on it. A container that never completes the
// handshake is replaced once before giving up.
func handleColdStart(r *scheduledRequest) error {
	handshake := time.Duration(config.GetInt(config.HANDSHAKE_TIMEOUT_MS, 10000)) * time.Millisecond

	for attempt := 0; attempt < 2; attempt++ {
		ci, err := node.NewContainer(r.Fun, r.Version)
		if errors.Is(err, node.OutOfResourcesErr) {
			return err
		} else if err != nil {
			log.Errorf("Could not create a new container for %s: %v", r.Fun.Name, err)
			return ErrInternal
		}
		if err := container.Start(ci.ContID); err != nil {
			log.Warnf("Could not start container %s: %v", ci.ContID, err)
			node.DestroyInstance(ci)
			continue
		}
		if err := execChannel.WaitReady(ci.ID, handshake); err != nil {
			log.Warnf("Handshake failed for instance %s, replacing it", ci.ID)
			node.DestroyInstance(ci)
			continue
		}
		if err := ci.Transition(node.StateWarmIdle); err != nil {
			node.DestroyInstance(ci)
			continue
		}
		ci.Transition(node.StateActive)
		metrics.ColdStarts.Inc()
		execLocally(r, ci, false)
		return nil
	}
	return ErrInternal
}

func failRequest(r *scheduledRequest, err error) {
	r.decisionChannel <- schedDecision{action: SCHED_FAIL, err: err}
}

func dropRequest(r *scheduledRequest) {
	failRequest(r, ErrThrottled)
}

func execLocally(r *scheduledRequest, ci *node.ContainerInstance, warmStart bool) {
	r.ExecReport.InitTime = time.Since(r.Arrival).Seconds()
	r.ExecReport.IsWarmStart = warmStart

	r.decisionChannel <- schedDecision{action: SCHED_EXEC, instance: ci}
}

// Prewarm creates count warm containers for a function version, up to what
// resources allow. Returns how many were actually created.
func Prewarm(fun *function.Function, version string, count int) int {
	handshake := time.Duration(config.GetInt(config.HANDSHAKE_TIMEOUT_MS, 10000)) * time.Millisecond

	created := 0
	for i := 0; i < count; i++ {
		ci, err := node.NewContainer(fun, version)
		if err != nil {
			log.Debugf("Prewarm of %s stopped: %v", fun.Name, err)
			break
		}
		if err := container.Start(ci.ContID); err != nil {
			node.DestroyInstance(ci)
			break
		}
		if err := execChannel.WaitReady(ci.ID, handshake); err != nil {
			node.DestroyInstance(ci)
			break
		}
		node.ReleaseContainer(ci)
		created++
	}
	return created
}
