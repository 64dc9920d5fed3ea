package plan

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

type AmountKind string

const (
	AmountNative AmountKind = "native"
	AmountErc20  AmountKind = "erc20"
)

// PermitSignature is a signed permit embedded in an erc20 amount so the
// service can plan the action without a separate approval.
type PermitSignature struct {
	Deadline int64     `json:"deadline"`
	Value    Signature `json:"value"`
}

// Amount is either an exact value or the max sentinel. The sentinel is sent as
// is; the service resolves the quantity against up-to-the-block balances.
type Amount struct {
	Kind   AmountKind
	Value  decimal.Decimal
	Max    bool
	Permit mo.Option[PermitSignature]
}

func ExactAmount(kind AmountKind, value decimal.Decimal) Amount {
	return Amount{Kind: kind, Value: value}
}

func MaxAmount(kind AmountKind) Amount {
	return Amount{Kind: kind, Max: true}
}

// WithPermit returns a copy of the amount carrying the permit signature.
func (a Amount) WithPermit(permit PermitSignature) Amount {
	a.Permit = mo.Some(permit)
	return a
}

func (a Amount) Validate(allowMax bool) error {
	switch a.Kind {
	case AmountNative, AmountErc20:
	default:
		return fmt.Errorf("unsupported amount kind %q", a.Kind)
	}
	if a.Max {
		if !allowMax {
			return fmt.Errorf("max amount is not supported for this operation")
		}
		return nil
	}
	if a.Value.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if a.Kind == AmountNative && a.Permit.IsPresent() {
		return fmt.Errorf("permit signatures apply only to erc20 amounts")
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	inner := map[string]any{}
	if a.Max {
		inner["max"] = true
	} else {
		inner["value"] = a.Value.String()
	}
	if permit, ok := a.Permit.Get(); ok {
		inner["permitSig"] = permit
	}
	return json.Marshal(map[string]any{string(a.Kind): inner})
}

type SupplyRequest struct {
	Reserve          ReserveID      `json:"reserve"`
	Amount           Amount         `json:"amount"`
	Sender           common.Address `json:"sender"`
	EnableCollateral bool           `json:"enableCollateral"`
}

type BorrowRequest struct {
	Reserve ReserveID      `json:"reserve"`
	Amount  Amount         `json:"amount"`
	Sender  common.Address `json:"sender"`
}

type RepayRequest struct {
	Reserve    ReserveID      `json:"reserve"`
	Amount     Amount         `json:"amount"`
	Sender     common.Address `json:"sender"`
	OnBehalfOf common.Address `json:"onBehalfOf"`
}

type WithdrawRequest struct {
	Reserve ReserveID      `json:"reserve"`
	Amount  Amount         `json:"amount"`
	Sender  common.Address `json:"sender"`
}

type LiquidateRequest struct {
	CollateralReserve ReserveID      `json:"collateral"`
	DebtReserve       ReserveID      `json:"debt"`
	User              common.Address `json:"user"`
	Amount            Amount         `json:"amount"`
	Sender            common.Address `json:"liquidator"`
	ReceiveShares     bool           `json:"receiveShares"`
}

type SetCollateralRequest struct {
	Reserve ReserveID      `json:"reserve"`
	Sender  common.Address `json:"sender"`
	Enable  bool           `json:"enableCollateral"`
}

type SetPositionManagerRequest struct {
	Spoke   SpokeID        `json:"spoke"`
	Manager common.Address `json:"manager"`
	Sender  common.Address `json:"user"`
	Approve bool           `json:"approve"`
}

type RenouncePositionManagerRequest struct {
	Spoke  SpokeID        `json:"spoke"`
	User   common.Address `json:"user"`
	Sender common.Address `json:"manager"`
}

// UpdateUserPositionRequest refreshes a user's risk premium or dynamic config on a spoke.
type UpdateUserPositionRequest struct {
	Spoke  SpokeID        `json:"spoke"`
	User   common.Address `json:"user"`
	Sender common.Address `json:"sender"`
}

// TransactionReceiptRequest asks the service whether it has indexed a
// confirmed transaction.
type TransactionReceiptRequest struct {
	TxHash     common.Hash     `json:"txHash"`
	ChainID    int64           `json:"chainId"`
	Operations []OperationType `json:"operations"`
}
