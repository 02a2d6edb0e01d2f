package node

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

// stopViaSweep releases the instance, ages it past the soft threshold and
// runs the sweep, leaving it in Stopping state.
func stopViaSweep(t *testing.T, ci *ContainerInstance) {
	t.Helper()
	viper.Set(config.IDLE_SOFT_MS, 50)
	viper.Set(config.IDLE_HARD_MS, 600000)
	defer viper.Set(config.IDLE_SOFT_MS, 60000)

	ReleaseContainer(ci)
	ci.mu.Lock()
	ci.lastActivity = time.Now().Add(-100 * time.Millisecond)
	ci.mu.Unlock()
	DeleteExpiredContainers()
	utils.AssertEquals(t, StateStopping, ci.State())
}

func TestSweepStopEventKeepsInstanceResumable(t *testing.T) {
	fake := poolSetup(1024, 4.0)
	fun := testFunction("f")

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	stopViaSweep(t, ci)

	// the driver reports the exit caused by our own stop; the instance must
	// stay stopped, not get removed
	handleContainerExit(container.ContainerEvent{ID: ci.ContID, Type: "die", ExitCode: 0})
	utils.AssertEquals(t, StateStopping, ci.State())
	utils.AssertFalseMsg(t, fake.Removed[ci.ContID], "a stopped instance must survive its own stop event")

	// and it can still be resumed afterwards
	claimed, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, ci.ContID, claimed.ContID)
	utils.AssertEquals(t, StateActive, claimed.State())
}

func TestUnexpectedExitWhileStoppedRemoves(t *testing.T) {
	fake := poolSetup(1024, 4.0)
	fun := testFunction("f")

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	stopViaSweep(t, ci)

	// first exit event belongs to the stop we issued
	handleContainerExit(container.ContainerEvent{ID: ci.ContID, Type: "die", ExitCode: 0})
	utils.AssertEquals(t, StateStopping, ci.State())

	// a second one means the container is gone for real
	handleContainerExit(container.ContainerEvent{ID: ci.ContID, Type: "die", ExitCode: 137})
	utils.AssertEquals(t, StateRemoved, ci.State())
	utils.AssertTrue(t, fake.Removed[ci.ContID])
}

func TestCrashWhileActiveSignalsChannel(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	ReleaseContainer(ci)
	claimed, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, StateActive, claimed.State())

	var crashed string
	OnInstanceCrashed = func(instanceID string) { crashed = instanceID }
	defer func() { OnInstanceCrashed = nil }()

	handleContainerExit(container.ContainerEvent{ID: ci.ContID, Type: "oom", ExitCode: 137})
	utils.AssertEquals(t, StateCrashed, ci.State())
	utils.AssertEqualsMsg(t, ci.ID, crashed, "a crash during execution must be signalled")
}

func TestExitOfUnknownContainerIgnored(t *testing.T) {
	poolSetup(1024, 4.0)

	// must not panic or touch anything
	handleContainerExit(container.ContainerEvent{ID: "not-ours", Type: "die", ExitCode: 1})
}
