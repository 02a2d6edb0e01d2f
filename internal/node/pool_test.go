package node

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/cumulusfn/cumulus/internal/config"
	"github.com/cumulusfn/cumulus/internal/container"
	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func poolSetup(memMB int64, cpus float64) *container.FakeFactory {
	f := container.NewFakeFactory()
	container.SetFactory(f)
	InitResources(memMB, cpus)
	OnInstanceRemoved = nil
	OnInstanceCrashed = nil
	return f
}

func testFunction(name string) *function.Function {
	return &function.Function{
		Name:        name,
		MemoryMB:    128,
		CPUDemand:   1.0,
		Runtime:     container.CUSTOM_RUNTIME,
		CustomImage: "example/runtime:latest",
	}
}

func TestColdStartAccounting(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	_, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertTrue(t, errors.Is(err, NoWarmFoundErr))

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, StateStarting, ci.State())

	Resources.RLock()
	utils.AssertEquals(t, int64(1024-128), Resources.AvailableMemMB)
	utils.AssertEquals(t, 3.0, Resources.AvailableCPUs)
	Resources.RUnlock()

	ReleaseContainer(ci)
	utils.AssertEquals(t, StateWarmIdle, ci.State())

	Resources.RLock()
	utils.AssertEquals(t, 4.0, Resources.AvailableCPUs)
	// memory stays held while the container is warm
	utils.AssertEquals(t, int64(1024-128), Resources.AvailableMemMB)
	Resources.RUnlock()
}

func TestWarmClaimPrefersMostRecentlyReleased(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	first, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	second, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)

	ReleaseContainer(first)
	ReleaseContainer(second)

	claimed, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEqualsMsg(t, second.ID, claimed.ID, "most recently released instance should be claimed first")
	utils.AssertEquals(t, StateActive, claimed.State())
}

func TestWarmClaimSkipsGuardedInstance(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	ReleaseContainer(ci)

	// simulate the idle sweep holding the guard
	utils.AssertTrue(t, ci.Claim())
	_, err = AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertTrue(t, errors.Is(err, NoWarmFoundErr))
	ci.Unclaim()

	claimed, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, ci.ID, claimed.ID)
}

func TestWarmClaimMatchesVersion(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	ci, err := NewContainer(fun, "1")
	utils.AssertNil(t, err)
	ReleaseContainer(ci)

	_, err = AcquireWarmContainer(fun, "2")
	utils.AssertTrueMsg(t, errors.Is(err, NoWarmFoundErr), "a warm container of another version must not be claimed")

	claimed, err := AcquireWarmContainer(fun, "1")
	utils.AssertNil(t, err)
	utils.AssertEquals(t, ci.ID, claimed.ID)
}

func TestIdleSweepStopsThenRemoves(t *testing.T) {
	fake := poolSetup(1024, 4.0)
	viper.Set(config.IDLE_SOFT_MS, 50)
	viper.Set(config.IDLE_HARD_MS, 200)
	defer viper.Set(config.IDLE_SOFT_MS, 60000)
	defer viper.Set(config.IDLE_HARD_MS, 600000)

	fun := testFunction("f")
	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	ReleaseContainer(ci)

	// not idle long enough: nothing happens
	DeleteExpiredContainers()
	utils.AssertEquals(t, StateWarmIdle, ci.State())

	ci.mu.Lock()
	ci.lastActivity = time.Now().Add(-100 * time.Millisecond)
	ci.mu.Unlock()
	DeleteExpiredContainers()
	utils.AssertEquals(t, StateStopping, ci.State())
	utils.AssertTrue(t, fake.Stopped[ci.ContID])

	ci.mu.Lock()
	ci.lastActivity = time.Now().Add(-300 * time.Millisecond)
	ci.mu.Unlock()
	DeleteExpiredContainers()
	utils.AssertEquals(t, StateRemoved, ci.State())
	utils.AssertTrue(t, fake.Removed[ci.ContID])

	Resources.RLock()
	utils.AssertEquals(t, int64(1024), Resources.AvailableMemMB)
	Resources.RUnlock()
}

func TestResumeFastPath(t *testing.T) {
	fake := poolSetup(1024, 4.0)
	viper.Set(config.IDLE_SOFT_MS, 50)
	viper.Set(config.IDLE_HARD_MS, 600000)
	defer viper.Set(config.IDLE_SOFT_MS, 60000)

	fun := testFunction("f")
	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	ReleaseContainer(ci)

	ci.mu.Lock()
	ci.lastActivity = time.Now().Add(-100 * time.Millisecond)
	ci.mu.Unlock()
	DeleteExpiredContainers()
	utils.AssertEquals(t, StateStopping, ci.State())

	// claiming a stopped instance resumes the same container
	claimed, err := AcquireWarmContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, ci.ID, claimed.ID)
	utils.AssertEquals(t, ci.ContID, claimed.ContID)
	utils.AssertEquals(t, StateActive, claimed.State())
	utils.AssertTrue(t, fake.IsRunning(ci.ContID))
}

func TestDismissFreesMemoryForNewContainer(t *testing.T) {
	fake := poolSetup(128, 4.0)

	oldFun := testFunction("old")
	oldCi, err := NewContainer(oldFun, function.LatestVersion)
	utils.AssertNil(t, err)
	ReleaseContainer(oldCi)

	newFun := testFunction("new")
	newCi, err := NewContainer(newFun, function.LatestVersion)
	utils.AssertNilMsg(t, err, "idle container of another function should be dismissed")
	utils.AssertEquals(t, StateRemoved, oldCi.State())
	utils.AssertTrue(t, fake.Removed[oldCi.ContID])
	utils.AssertEquals(t, StateStarting, newCi.State())
}

func TestShutdownWarmContainersFor(t *testing.T) {
	fake := poolSetup(1024, 4.0)
	fun := testFunction("f")

	first, _ := NewContainer(fun, function.LatestVersion)
	second, _ := NewContainer(fun, function.LatestVersion)
	ReleaseContainer(first)
	ReleaseContainer(second)

	removed := ShutdownWarmContainersFor("f")
	utils.AssertEquals(t, 2, removed)
	utils.AssertTrue(t, fake.Removed[first.ContID])
	utils.AssertTrue(t, fake.Removed[second.ContID])
	utils.AssertEquals(t, 0, WarmStatus()["f"])

	Resources.RLock()
	utils.AssertEquals(t, int64(1024), Resources.AvailableMemMB)
	Resources.RUnlock()
}

func TestInstanceRemovalHook(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	var removedID string
	OnInstanceRemoved = func(instanceID string) { removedID = instanceID }

	ci, err := NewContainer(fun, function.LatestVersion)
	utils.AssertNil(t, err)
	DestroyInstance(ci)
	utils.AssertEquals(t, ci.ID, removedID)
}

func TestPoolSnapshot(t *testing.T) {
	poolSetup(1024, 4.0)
	fun := testFunction("f")

	busy, _ := NewContainer(fun, function.LatestVersion)
	idle, _ := NewContainer(fun, function.LatestVersion)
	ReleaseContainer(idle)
	_ = busy

	snapshot := PoolSnapshot()
	utils.AssertEquals(t, 1, len(snapshot))
	utils.AssertEquals(t, "f", snapshot[0].Function)
	utils.AssertEquals(t, 1, snapshot[0].Idle)
	utils.AssertEquals(t, 1, snapshot[0].Busy)
	utils.AssertEquals(t, 2, len(snapshot[0].Instances))
}
