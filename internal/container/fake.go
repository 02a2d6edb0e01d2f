package container

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeFactory is an in-memory Factory used by tests. It tracks container
// lifecycle without talking to a real runtime and lets tests extract the
// creation options (notably the environment) of every container.
type FakeFactory struct {
	mu         sync.Mutex
	nextID     int
	Created    map[ContainerID]*ContainerOptions
	Running    map[ContainerID]bool
	Stopped    map[ContainerID]bool
	Removed    map[ContainerID]bool
	eventCh    chan ContainerEvent
	CreateHook func(id ContainerID, opts *ContainerOptions)

	// FailCreate makes the next Create calls fail when > 0.
	FailCreate int
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		Created: make(map[ContainerID]*ContainerOptions),
		Running: make(map[ContainerID]bool),
		Stopped: make(map[ContainerID]bool),
		Removed: make(map[ContainerID]bool),
		eventCh: make(chan ContainerEvent, 16),
	}
}

func (f *FakeFactory) Create(image string, opts *ContainerOptions) (ContainerID, error) {
	f.mu.Lock()
	if f.FailCreate > 0 {
		f.FailCreate--
		f.mu.Unlock()
		return "", fmt.Errorf("fake create failure")
	}
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	optsCopy := *opts
	f.Created[id] = &optsCopy
	hook := f.CreateHook
	f.mu.Unlock()
	if hook != nil {
		hook(id, &optsCopy)
	}
	return id, nil
}

func (f *FakeFactory) CopyToContainer(contID ContainerID, content io.Reader, destPath string) error {
	return nil
}

func (f *FakeFactory) Start(contID ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Removed[contID] {
		return fmt.Errorf("container %s was removed", contID)
	}
	f.Running[contID] = true
	delete(f.Stopped, contID)
	return nil
}

func (f *FakeFactory) Stop(contID ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Removed[contID] {
		return fmt.Errorf("container %s was removed", contID)
	}
	delete(f.Running, contID)
	f.Stopped[contID] = true
	return nil
}

func (f *FakeFactory) Resume(contID ContainerID) error {
	return f.Start(contID)
}

func (f *FakeFactory) Destroy(contID ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Running, contID)
	delete(f.Stopped, contID)
	f.Removed[contID] = true
	return nil
}

func (f *FakeFactory) HasImage(image string) bool { return true }

func (f *FakeFactory) PullImage(image string) error { return nil }

func (f *FakeFactory) GetIPAddress(contID ContainerID) (string, error) {
	return "127.0.0.1", nil
}

func (f *FakeFactory) GetMemoryMB(contID ContainerID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.Created[contID]
	if !ok {
		return -1, fmt.Errorf("unknown container %s", contID)
	}
	return opts.MemoryMB, nil
}

func (f *FakeFactory) GetLog(contID ContainerID) (string, error) {
	return "", nil
}

func (f *FakeFactory) Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	return f.eventCh, make(chan error, 1)
}

// EmitEvent injects a lifecycle event, simulating e.g. a container crash.
func (f *FakeFactory) EmitEvent(ev ContainerEvent) {
	f.eventCh <- ev
}

// IsRunning reports whether the fake considers the container running.
func (f *FakeFactory) IsRunning(contID ContainerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[contID]
}
