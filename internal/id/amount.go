package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

const MaxAmountKeyword = "max"

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// AmountInput is the raw amount flags of a lending command.
type AmountInput struct {
	Decimal   string
	BaseUnits string
	Decimals  int
	Native    bool
}

// ParseAmount turns --amount / --amount-base into a request amount. "max" is
// kept as the sentinel; it is never resolved to a number locally.
func ParseAmount(in AmountInput) (plan.Amount, error) {
	kind := plan.AmountErc20
	if in.Native {
		kind = plan.AmountNative
	}
	dec := strings.TrimSpace(in.Decimal)
	base := strings.TrimSpace(in.BaseUnits)
	if dec != "" && base != "" {
		return plan.Amount{}, clierr.New(clierr.CodeUsage, "use either --amount or --amount-base, not both")
	}
	if dec == "" && base == "" {
		return plan.Amount{}, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if strings.EqualFold(dec, MaxAmountKeyword) || strings.EqualFold(base, MaxAmountKeyword) {
		return plan.MaxAmount(kind), nil
	}

	var value decimal.Decimal
	if base != "" {
		if in.Decimals < 0 {
			return plan.Amount{}, clierr.New(clierr.CodeUsage, "--decimals must be >= 0")
		}
		n, ok := new(big.Int).SetString(base, 10)
		if !ok || n.Sign() < 0 {
			return plan.Amount{}, clierr.New(clierr.CodeUsage, "--amount-base must be a non-negative integer string")
		}
		value = decimal.NewFromBigInt(n, -int32(in.Decimals))
	} else {
		if !decimalPattern.MatchString(dec) {
			return plan.Amount{}, clierr.New(clierr.CodeUsage, "--amount must be in decimal form like 1.23 or max")
		}
		parsed, err := decimal.NewFromString(dec)
		if err != nil {
			return plan.Amount{}, clierr.Wrap(clierr.CodeUsage, "invalid --amount", err)
		}
		if in.Decimals > 0 && -parsed.Exponent() > int32(in.Decimals) {
			return plan.Amount{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", in.Decimals))
		}
		value = parsed
	}
	if value.Sign() <= 0 {
		return plan.Amount{}, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	return plan.ExactAmount(kind, value), nil
}

// FormatBaseUnits renders an integer base-unit amount as a decimal string.
func FormatBaseUnits(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return baseUnits
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}
