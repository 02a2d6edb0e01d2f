package node

import (
	"testing"

	"github.com/cumulusfn/cumulus/internal/function"
	"github.com/cumulusfn/cumulus/utils"
)

func testInstance() *ContainerInstance {
	f := &function.Function{Name: "f", MemoryMB: 128}
	return newInstance("inst-1", "cont-1", f, function.LatestVersion)
}

func TestInstanceLifecycle(t *testing.T) {
	ci := testInstance()
	utils.AssertEquals(t, StateStarting, ci.State())

	utils.AssertNil(t, ci.Transition(StateWarmIdle))
	utils.AssertNil(t, ci.Transition(StateActive))
	utils.AssertNil(t, ci.Transition(StateWarmIdle))
	utils.AssertNil(t, ci.Transition(StateStopping))
	utils.AssertNil(t, ci.Transition(StateWarmIdle))
	utils.AssertNil(t, ci.Transition(StateRemoved))
}

func TestInstanceIllegalTransitions(t *testing.T) {
	ci := testInstance()

	// a Starting instance cannot serve work before the handshake
	utils.AssertNonNil(t, ci.Transition(StateActive))

	utils.AssertNil(t, ci.Transition(StateWarmIdle))
	// an idle instance has nothing running, so it cannot crash-transition
	utils.AssertNonNil(t, ci.Transition(StateCrashed))

	utils.AssertNil(t, ci.Transition(StateActive))
	utils.AssertNonNil(t, ci.Transition(StateStopping))

	utils.AssertNil(t, ci.Transition(StateCrashed))
	// crashed instances only leave through removal
	utils.AssertNonNil(t, ci.Transition(StateWarmIdle))
	utils.AssertNil(t, ci.Transition(StateRemoved))

	// removed is terminal
	utils.AssertNonNil(t, ci.Transition(StateWarmIdle))
}

func TestInstanceClaim(t *testing.T) {
	ci := testInstance()

	utils.AssertTrue(t, ci.Claim())
	// the guard is not reentrant: a second claim must fail
	utils.AssertFalse(t, ci.Claim())
	ci.Unclaim()
	utils.AssertTrue(t, ci.Claim())
	ci.Unclaim()
}
