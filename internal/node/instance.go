package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/LK4D4/trylock"

	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/function"
)

// State of a container instance. Transitions are validated: an illegal
// transition is a programming error and is reported, never applied.
type State string

const (
	StateStarting State = "Starting"
	StateWarmIdle State = "WarmIdle"
	StateActive   State = "Active"
	StateStopping State = "Stopping"
	StateCrashed  State = "Crashed"
	StateRemoved  State = "Removed"
)

var legalTransitions = map[State][]State{
	StateStarting: {StateWarmIdle, StateCrashed, StateRemoved},
	StateWarmIdle: {StateActive, StateStopping, StateRemoved},
	StateActive:   {StateWarmIdle, StateCrashed, StateRemoved},
	StateStopping: {StateWarmIdle, StateRemoved},
	StateCrashed:  {StateRemoved},
}

// ContainerInstance tracks one container hosting one function version.
//
// The guard is held while an actor (scheduler claim, idle sweep) is deciding
// the instance's fate. The idle sweep only uses TryLock: if a claim holds the
// guard, the sweep skips the instance instead of racing it.
type ContainerInstance struct {
	guard trylock.Mutex

	ID        string // also the container name and its INSTANCE_ID env var
	ContID    container.ContainerID
	Function  *function.Function
	Version   string
	CreatedAt time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	expectedStop bool
}

func newInstance(id string, contID container.ContainerID, f *function.Function, version string) *ContainerInstance {
	now := time.Now()
	return &ContainerInstance{
		ID:           id,
		ContID:       contID,
		Function:     f,
		Version:      version,
		CreatedAt:    now,
		state:        StateStarting,
		lastActivity: now,
	}
}

func (ci *ContainerInstance) State() State {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.state
}

// Transition moves the instance to the given state, enforcing the legal
// transition table.
func (ci *ContainerInstance) Transition(to State) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	for _, s := range legalTransitions[ci.state] {
		if s == to {
			ci.state = to
			ci.lastActivity = time.Now()
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for instance %s", ci.state, to, ci.ID)
}

// markExpectedStop records that the node itself is stopping the container,
// so the exit event the driver emits for it must not be taken for a crash.
func (ci *ContainerInstance) markExpectedStop() {
	ci.mu.Lock()
	ci.expectedStop = true
	ci.mu.Unlock()
}

// consumeExpectedStop reports whether a pending expected stop was set and
// clears it. At most one exit event is absorbed per marked stop.
func (ci *ContainerInstance) consumeExpectedStop() bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	was := ci.expectedStop
	ci.expectedStop = false
	return was
}

// IdleFor returns how long the instance has been without activity.
func (ci *ContainerInstance) IdleFor(now time.Time) time.Duration {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return now.Sub(ci.lastActivity)
}

// Claim attempts to take the instance guard without blocking.
func (ci *ContainerInstance) Claim() bool {
	return ci.guard.TryLock()
}

func (ci *ContainerInstance) Unclaim() {
	ci.guard.Unlock()
}
