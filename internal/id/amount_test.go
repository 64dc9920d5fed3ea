package id

import (
	"testing"

	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

func TestParseAmountBaseUnits(t *testing.T) {
	amount, err := ParseAmount(AmountInput{BaseUnits: "1250000", Decimals: 6})
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if amount.Kind != plan.AmountErc20 || amount.Value.String() != "1.25" {
		t.Fatalf("unexpected amount: %+v", amount)
	}
}

func TestParseAmountDecimal(t *testing.T) {
	amount, err := ParseAmount(AmountInput{Decimal: "0.5", Native: true})
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if amount.Kind != plan.AmountNative || amount.Value.String() != "0.5" || amount.Max {
		t.Fatalf("unexpected amount: %+v", amount)
	}
}

func TestParseAmountMaxSentinel(t *testing.T) {
	amount, err := ParseAmount(AmountInput{Decimal: "MAX"})
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if !amount.Max || !amount.Value.IsZero() {
		t.Fatalf("expected max sentinel, got %+v", amount)
	}
}

func TestParseAmountValidation(t *testing.T) {
	if _, err := ParseAmount(AmountInput{Decimal: "1", BaseUnits: "10"}); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, err := ParseAmount(AmountInput{Decimal: "1.1234567", Decimals: 6}); err == nil {
		t.Fatal("expected precision error")
	}
	if _, err := ParseAmount(AmountInput{Decimal: "0"}); err == nil {
		t.Fatal("expected zero amount to fail")
	}
	if _, err := ParseAmount(AmountInput{Decimal: "-1"}); err == nil {
		t.Fatal("expected negative amount to fail")
	}
	if got := FormatBaseUnits("0", 6); got != "0" {
		t.Fatalf("unexpected zero format: %s", got)
	}
}
