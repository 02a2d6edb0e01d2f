package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cumulusfn/cumulus/internal/container"
)

var OutOfResourcesErr = errors.New("not enough resources for function execution")
var NoWarmFoundErr = errors.New("no warm container is available")

var NodeIdentifier string

// OnInstanceRemoved is invoked after an instance leaves the node for good,
// so the runtime channel can drop its mailbox.
var OnInstanceRemoved func(instanceID string)

// OnInstanceCrashed is invoked when a container dies while executing, so the
// runtime channel can fail its in-flight invocation instead of letting the
// dispatcher wait out the deadline.
var OnInstanceCrashed func(instanceID string)

type NodeResources struct {
	sync.RWMutex
	AvailableMemMB int64
	AvailableCPUs  float64
	MaxMemMB       int64
	MaxCPUs        float64
	RequestsCount  int64 // number of requests arrived at the node
	ContainerPools map[string]*FunctionPool

	// instances indexes every live instance by its container id, for the
	// container event watcher.
	instances map[container.ContainerID]*ContainerInstance
}

func (n *NodeResources) String() string {
	return fmt.Sprintf("[CPUs: %f - Mem: %d]", n.AvailableCPUs, n.AvailableMemMB)
}

var Resources NodeResources

// InitResources sets up the node capacity. Called once at startup and by
// tests to reset state.
func InitResources(memMB int64, cpus float64) {
	Resources.Lock()
	defer Resources.Unlock()
	Resources.MaxMemMB = memMB
	Resources.MaxCPUs = cpus
	Resources.AvailableMemMB = memMB
	Resources.AvailableCPUs = cpus
	Resources.RequestsCount = 0
	Resources.ContainerPools = make(map[string]*FunctionPool)
	Resources.instances = make(map[container.ContainerID]*ContainerInstance)
}

// InstanceByContainerID resolves a container id to its instance, if any.
func InstanceByContainerID(contID container.ContainerID) (*ContainerInstance, bool) {
	Resources.RLock()
	defer Resources.RUnlock()
	ci, ok := Resources.instances[contID]
	return ci, ok
}
