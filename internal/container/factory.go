package container

import (
	"context"
	"io"

	"github.com/cumulusfn/cumulus/internal/config"
)

// A Factory creates and manages containers on the host runtime.
//
// Stop pauses a container while retaining its filesystem state, so a later
// Resume skips the cold start. Destroy force-removes it. Every call may fail
// and must surface a typed error: the scheduler's correctness depends on
// knowing true container state.
type Factory interface {
	Create(string, *ContainerOptions) (ContainerID, error)
	CopyToContainer(ContainerID, io.Reader, string) error
	Start(ContainerID) error
	Stop(ContainerID) error
	Resume(ContainerID) error
	Destroy(ContainerID) error
	HasImage(string) bool
	PullImage(string) error
	GetIPAddress(ContainerID) (string, error)
	GetMemoryMB(id ContainerID) (int64, error)
	GetLog(id ContainerID) (string, error)
	// Events reports unexpected container exits until ctx is cancelled.
	Events(ctx context.Context) (<-chan ContainerEvent, <-chan error)
}

// ContainerOptions contains options for container creation.
type ContainerOptions struct {
	Cmd      []string
	Env      []string
	Name     string
	MemoryMB int64
	CPUQuota float64
}

type ContainerID = string

// ContainerEvent signals an asynchronous lifecycle change observed on the
// host runtime.
type ContainerEvent struct {
	ID       ContainerID
	Type     string // "die" or "oom"
	ExitCode int
}

// cf is the container factory for the node
var cf Factory

// InitFactory selects the configured container manager.
func InitFactory() Factory {
	if config.GetString(config.CONTAINER_MANAGER, "docker") == "podman" {
		return InitPodmanContainerFactory()
	}
	return InitDockerContainerFactory()
}

// SetFactory overrides the active factory. Tests install the in-memory fake
// through this.
func SetFactory(f Factory) {
	cf = f
}

func GetFactory() Factory {
	return cf
}

func DownloadImage(image string, forceRefresh bool) error {
	if forceRefresh || !cf.HasImage(image) {
		return cf.PullImage(image)
	}
	return nil
}
