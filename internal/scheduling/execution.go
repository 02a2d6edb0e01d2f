package scheduling

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/executor"
	"github.com/cumulusfn/cumulus/internal/metrics"
	"github.com/cumulusfn/cumulus/internal/node"
)

const HANDLER_DIR = "/app"

// Execute serves a request on the given container instance over the runtime
// channel. Exactly one invocation flows through a claimed instance; the
// instance is either returned warm or destroyed, never left in limbo.
func Execute(ci *node.ContainerInstance, r *scheduledRequest) error {
	log.Debugf("Invoking %s on instance %s", r, ci.ID)

	payload, err := json.Marshal(r.Params)
	if err != nil {
		node.ReleaseContainer(ci)
		return ErrInternal
	}

	inv := &executor.Invocation{
		RequestID:  r.ReqId,
		Payload:    payload,
		DeadlineMs: r.Deadline.UnixMilli(),
		Handler:    r.Fun.Handler,
		HandlerDir: HANDLER_DIR,
	}

	resultCh := execChannel.Register(r.ReqId)
	defer execChannel.Drop(r.ReqId)

	ctx, cancel := context.WithDeadline(context.Background(), r.Deadline)
	defer cancel()

	started := time.Now()
	if err := execChannel.Submit(ctx, ci.ID, inv); err != nil {
		log.Errorf("Could not submit %s to instance %s: %v", r, ci.ID, err)
		destroyFailed(ci)
		return ErrInternal
	}

	select {
	case res := <-resultCh:
		duration := time.Since(started)
		r.ExecReport.Result = res.Result
		r.ExecReport.FunctionError = res.FunctionError
		r.ExecReport.Duration = duration.Seconds()
		r.ExecReport.BilledDurationMs = billedMs(duration)
		r.ExecReport.ResponseTime = time.Since(r.Arrival).Seconds()
		r.ExecReport.ExecutedVersion = r.Version
		metrics.ObserveExecution(r.ExecReport.Duration)

		if r.LogTail {
			if tail, logErr := container.GetLog(ci.ContID); logErr == nil {
				r.ExecReport.LogTail = base64.StdEncoding.EncodeToString([]byte(tail))
			}
		}

		if res.FunctionError == "Unhandled" {
			// the runtime inside the container failed: do not reuse it
			destroyFailed(ci)
		} else {
			node.ReleaseContainer(ci)
		}
		return nil

	case <-ctx.Done():
		// deadline exceeded: the container may still be running the handler,
		// so it cannot be reused. Drop the result slot first, any completion
		// arriving from now on is discarded.
		execChannel.Drop(r.ReqId)
		r.ExecReport.FunctionError = "Unhandled"
		r.ExecReport.Result = fmt.Sprintf(
			`{"errorMessage": "%s Task timed out after %d ms", "errorType": "TaskTimedOut"}`,
			r.ReqId, r.Fun.TimeoutSec*1000)
		r.ExecReport.Duration = time.Since(started).Seconds()
		r.ExecReport.BilledDurationMs = billedMs(time.Since(started))
		r.ExecReport.ResponseTime = time.Since(r.Arrival).Seconds()
		r.ExecReport.ExecutedVersion = r.Version
		destroyFailed(ci)
		return ErrTimeout
	}
}

func destroyFailed(ci *node.ContainerInstance) {
	// the event watcher may have marked the instance Crashed already
	if ci.State() != node.StateCrashed {
		if err := ci.Transition(node.StateCrashed); err != nil {
			log.Warnf("%v", err)
		}
	}
	node.DestroyInstance(ci)
}

// billedMs rounds wall time up to the billing granularity, with the
// granularity itself as the floor.
func billedMs(d time.Duration) int64 {
	granularity := int64(config.GetInt(config.BILLING_GRANULARITY_MS, 1))
	if granularity <= 0 {
		granularity = 1
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		return granularity
	}
	return (ms + granularity - 1) / granularity * granularity
}
