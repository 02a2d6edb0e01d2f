package function

import (
	"encoding/base64"
	"testing"

	"github.com/cumulusfn/cumulus/utils"
)

func TestComputeCodeSha256Stable(t *testing.T) {
	raw := []byte("def handler(params, context):\n    return params\n")
	f := Function{Name: "f", TarFunctionCode: base64.StdEncoding.EncodeToString(raw)}

	first := f.ComputeCodeSha256()
	second := f.ComputeCodeSha256()
	utils.AssertEquals(t, first, second)
	utils.AssertEquals(t, 64, len(first))

	// the hash covers the decoded artifact, not its base64 encoding
	g := Function{Name: "g", TarFunctionCode: f.TarFunctionCode}
	utils.AssertEquals(t, first, g.ComputeCodeSha256())

	g.TarFunctionCode = base64.StdEncoding.EncodeToString(append(raw, '\n'))
	if g.ComputeCodeSha256() == first {
		t.Fatal("different code must hash differently")
	}
}

func TestSnapshotFollowsLiveConcurrency(t *testing.T) {
	snapshot := Function{Name: "f", MemoryMB: 128, ReservedConcurrency: 5}
	current := &Function{Name: "f", MemoryMB: 256, ReservedConcurrency: 2}

	resolved := withLiveConcurrency(snapshot, current)
	utils.AssertEqualsMsg(t, 2, resolved.ReservedConcurrency,
		"a qualified invocation must honor the current reserved ceiling")
	// the rest of the published configuration stays frozen
	utils.AssertEquals(t, int64(128), resolved.MemoryMB)

	// without a live record the snapshot value stands
	utils.AssertEquals(t, 5, withLiveConcurrency(snapshot, nil).ReservedConcurrency)
}

func TestFunctionEquals(t *testing.T) {
	a := &Function{Name: "f", Runtime: "python310", Handler: "h.main", MemoryMB: 128}
	b := &Function{Name: "f", Runtime: "python310", Handler: "h.main", MemoryMB: 128}
	utils.AssertTrue(t, a.Equals(b))

	b.MemoryMB = 256
	utils.AssertFalse(t, a.Equals(b))

	var nilFun *Function
	utils.AssertFalse(t, a.Equals(nilFun))
	utils.AssertTrue(t, nilFun.Equals(nil))
}
