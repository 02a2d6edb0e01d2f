package utils

import (
	"errors"
	"testing"
)

func TestReturnNonNilErr(t *testing.T) {
	AssertNil(t, ReturnNonNilErr())
	AssertNil(t, ReturnNonNilErr(nil, nil))

	first := errors.New("first")
	second := errors.New("second")
	if got := ReturnNonNilErr(nil, first, second); got != first {
		t.Fatalf("expected the first non-nil error, got %v", got)
	}
}
