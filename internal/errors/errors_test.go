package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindUsesOutermostTypedError(t *testing.T) {
	inner := Cancelled("user rejected")
	wrapped := fmt.Errorf("handler: %w", inner)
	if got := Kind(wrapped); got != CodeCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if got := Kind(errors.New("plain")); got != CodeInternal {
		t.Fatalf("expected internal for untyped error, got %s", got)
	}
	if got := Kind(nil); got != CodeSuccess {
		t.Fatalf("expected success for nil, got %s", got)
	}
}

func TestTransactionErrorIncludesHash(t *testing.T) {
	err := Transaction("transaction reverted on-chain", "0xabc", nil)
	if !strings.Contains(err.Error(), "0xabc") {
		t.Fatalf("expected tx hash in message, got %q", err.Error())
	}
	if ExitCode(err) != 24 {
		t.Fatalf("expected exit code 24, got %d", ExitCode(err))
	}
}

type detail struct{ n int }

func (d *detail) Error() string { return fmt.Sprintf("detail %d", d.n) }

func TestValidationKeepsDetail(t *testing.T) {
	err := Validation("insufficient balance", &detail{n: 7})
	var d *detail
	if !errors.As(err, &d) || d.n != 7 {
		t.Fatalf("expected detail to be recoverable, got %v", err)
	}
	if !Is(err, CodeValidation) {
		t.Fatalf("expected validation code, got %s", Kind(err))
	}
}
