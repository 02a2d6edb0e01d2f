package executor

import "encoding/json"

// Invocation is the unit of work handed to a container over the runtime
// channel.
type Invocation struct {
	RequestID  string
	Payload    json.RawMessage
	DeadlineMs int64 // absolute deadline, epoch milliseconds
	Handler    string
	HandlerDir string
}

// InvocationResult is what the container posts back for an invocation.
// FunctionError is empty on success, "Handled" when the function reported an
// application error, "Unhandled" when the runtime crashed the invocation.
type InvocationResult struct {
	RequestID     string
	Result        string
	FunctionError string
}
