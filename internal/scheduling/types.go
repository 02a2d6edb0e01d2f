package scheduling

import (
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/internal/node"
)

// scheduledRequest represents a Request within the scheduling subsystem
type scheduledRequest struct {
	*function.Request
	decisionChannel chan schedDecision
	admitted        bool // holds a concurrency slot that must be released
}

// schedDecision wraps an action made by the scheduler. A request is either
// executed on a container instance or failed with a terminal error.
type schedDecision struct {
	action   action
	instance *node.ContainerInstance
	err      error
}

type action int64

const (
	SCHED_FAIL action = iota
	SCHED_EXEC
)
