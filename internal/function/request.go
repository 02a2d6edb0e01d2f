package function

import (
	"fmt"
	"time"
)

// Request represents a single function invocation.
type Request struct {
	ReqId     string
	Fun       *Function
	Version   string // concrete version label the invocation resolved to
	Params    map[string]interface{}
	Arrival   time.Time
	Deadline  time.Time
	Async     bool
	LogTail   bool // return the tail of the container log with the result
	ExecReport ExecutionReport
}

// InvocationRequest is the wire format accepted by the invocation endpoint.
type InvocationRequest struct {
	Params    map[string]interface{}
	Qualifier string // version number or alias; empty means $LATEST
	Async     bool
	LogTail   bool
}

type ExecutionReport struct {
	Result           string
	FunctionError    string // "" on success, else "Handled" or "Unhandled"
	LogTail          string // base64, only when requested
	IsWarmStart      bool
	InitTime         float64 // seconds spent before execution started
	Duration         float64 // seconds of function execution
	BilledDurationMs int64   // wall time rounded up to the billing granularity
	ResponseTime     float64 // seconds from arrival to completion
	ExecutedVersion  string
	SchedAction      string
}

type Response struct {
	Success bool
	ExecutionReport
}

type AsyncResponse struct {
	ReqId string
}

func (r *Request) String() string {
	return fmt.Sprintf("[%s] Rq-%s", r.Fun.Name, r.ReqId)
}
