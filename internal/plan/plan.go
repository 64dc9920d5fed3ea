package plan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// Typename is the discriminant of an ExecutionPlan as sent by the service.
type Typename string

const (
	TypenameTransactionRequest        Typename = "TransactionRequest"
	TypenameErc20ApprovalRequired     Typename = "Erc20ApprovalRequired"
	TypenamePreContractActionRequired Typename = "PreContractActionRequired"
	TypenameInsufficientBalanceError  Typename = "InsufficientBalanceError"
)

// AllTypenames lists every ExecutionPlan variant. Adding a variant here without
// teaching the orchestrator about it fails the dispatch coverage test.
func AllTypenames() []Typename {
	return []Typename{
		TypenameTransactionRequest,
		TypenameErc20ApprovalRequired,
		TypenamePreContractActionRequired,
		TypenameInsufficientBalanceError,
	}
}

// ExecutionPlan is the closed set of outcomes the service returns for an
// attempted operation.
type ExecutionPlan interface {
	Typename() Typename
	isExecutionPlan()
}

// Leaf is a plan node that requires wallet interaction.
type Leaf interface {
	ExecutionPlan
	isLeaf()
}

// TransactionRequest is ready to be signed and sent as-is.
type TransactionRequest struct {
	To         common.Address  `json:"to"`
	From       common.Address  `json:"from"`
	Data       hexutil.Bytes   `json:"data"`
	Value      *big.Int        `json:"value"`
	ChainID    int64           `json:"chainId"`
	Operations []OperationType `json:"operations"`
}

func (*TransactionRequest) Typename() Typename { return TypenameTransactionRequest }
func (*TransactionRequest) isExecutionPlan()   {}
func (*TransactionRequest) isLeaf()            {}

// Erc20ApprovalRequired means the allowance is short. Transaction is the
// approval call, OriginalTransaction the action to run afterwards. BySignature,
// when present, is an EIP-2612 permit that replaces the approval transaction.
type Erc20ApprovalRequired struct {
	Transaction         TransactionRequest
	Reason              string
	RequiredAmount      decimal.Decimal
	CurrentAllowance    decimal.Decimal
	OriginalTransaction TransactionRequest
	BySignature         mo.Option[PermitTypedData]
}

func (*Erc20ApprovalRequired) Typename() Typename { return TypenameErc20ApprovalRequired }
func (*Erc20ApprovalRequired) isExecutionPlan()   {}
func (*Erc20ApprovalRequired) isLeaf()            {}

// PreContractActionRequired is a prerequisite call (not an approval) that must
// land before OriginalTransaction.
type PreContractActionRequired struct {
	Transaction         TransactionRequest
	Reason              string
	OriginalTransaction TransactionRequest
}

func (*PreContractActionRequired) Typename() Typename { return TypenamePreContractActionRequired }
func (*PreContractActionRequired) isExecutionPlan()   {}
func (*PreContractActionRequired) isLeaf()            {}

// InsufficientBalanceError is terminal: the operation cannot be performed as
// requested. It doubles as the error detail of a validation failure.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (*InsufficientBalanceError) Typename() Typename { return TypenameInsufficientBalanceError }
func (*InsufficientBalanceError) isExecutionPlan()   {}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required.String(), e.Available.String())
}

// PermitTypedData is the EIP-712 payload a wallet signs instead of sending an
// approval transaction.
type PermitTypedData struct {
	apitypes.TypedData
}

// Deadline reads message.deadline as unix seconds; zero when missing or malformed.
func (p PermitTypedData) Deadline() int64 {
	raw, ok := p.Message["deadline"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 0)
		if !ok || !n.IsInt64() {
			return 0
		}
		return n.Int64()
	default:
		return 0
	}
}
