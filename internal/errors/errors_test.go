package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(ErrCodeConflict, "already settling")
	if CodeOf(err) != ErrCodeConflict {
		t.Errorf("CodeOf = %s", CodeOf(err))
	}
	if CodeOf(fmt.Errorf("plain")) != ErrCodeInternal {
		t.Errorf("plain error should read as internal, got %s", CodeOf(fmt.Errorf("plain")))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeExternal, "signer unreachable")

	if !HasCode(err, ErrCodeExternal) {
		t.Error("wrapped code lost")
	}
	if !stderrors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestHelpers(t *testing.T) {
	if err := InvalidInput("amount", "must be positive"); !HasCode(err, ErrCodeValidation) {
		t.Errorf("InvalidInput: %v", err)
	}
	err := NotFound("tranche", "tr-1")
	if !HasCode(err, ErrCodeNotFound) {
		t.Errorf("NotFound: %v", err)
	}
	if HasCode(err, ErrCodeConflict) {
		t.Error("HasCode matched the wrong code")
	}
}
