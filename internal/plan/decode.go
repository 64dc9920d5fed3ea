package plan

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
)

type wireTransaction struct {
	To         string          `json:"to"`
	From       string          `json:"from"`
	Data       string          `json:"data"`
	Value      string          `json:"value"`
	ChainID    int64           `json:"chainId"`
	Operations []OperationType `json:"operations"`
}

type wirePlan struct {
	Typename string `json:"__typename"`

	wireTransaction

	Transaction         *wireTransaction    `json:"transaction"`
	OriginalTransaction *wireTransaction    `json:"originalTransaction"`
	Reason              string              `json:"reason"`
	RequiredAmount      decimal.NullDecimal `json:"requiredAmount"`
	CurrentAllowance    decimal.NullDecimal `json:"currentAllowance"`
	BySignature         *apitypes.TypedData `json:"bySignature"`
	Required            decimal.NullDecimal `json:"required"`
	Available           decimal.NullDecimal `json:"available"`
}

// DecodeExecutionPlan decodes the wire form of a plan. An unknown discriminant
// is an unexpected error: it means the service grew a variant this client
// does not know how to execute.
func DecodeExecutionPlan(raw []byte) (ExecutionPlan, error) {
	var w wirePlan
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode execution plan", err)
	}
	switch Typename(w.Typename) {
	case TypenameTransactionRequest:
		tx, err := w.wireTransaction.decode()
		if err != nil {
			return nil, err
		}
		return &tx, nil
	case TypenameErc20ApprovalRequired:
		approval, original, err := decodeTwoStep(w)
		if err != nil {
			return nil, err
		}
		out := &Erc20ApprovalRequired{
			Transaction:         approval,
			Reason:              w.Reason,
			RequiredAmount:      w.RequiredAmount.Decimal,
			CurrentAllowance:    w.CurrentAllowance.Decimal,
			OriginalTransaction: original,
			BySignature:         mo.None[PermitTypedData](),
		}
		if w.BySignature != nil {
			out.BySignature = mo.Some(PermitTypedData{TypedData: *w.BySignature})
		}
		return out, nil
	case TypenamePreContractActionRequired:
		pre, original, err := decodeTwoStep(w)
		if err != nil {
			return nil, err
		}
		return &PreContractActionRequired{
			Transaction:         pre,
			Reason:              w.Reason,
			OriginalTransaction: original,
		}, nil
	case TypenameInsufficientBalanceError:
		if !w.Required.Valid || !w.Available.Valid {
			return nil, clierr.New(clierr.CodeUnavailable, "insufficient balance plan is missing required/available amounts")
		}
		return &InsufficientBalanceError{Required: w.Required.Decimal, Available: w.Available.Decimal}, nil
	case "":
		return nil, clierr.Unexpected("execution plan has no __typename")
	default:
		return nil, clierr.Unexpected(fmt.Sprintf("unknown execution plan variant %q", w.Typename))
	}
}

func decodeTwoStep(w wirePlan) (TransactionRequest, TransactionRequest, error) {
	if w.Transaction == nil || w.OriginalTransaction == nil {
		return TransactionRequest{}, TransactionRequest{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s plan is missing transaction or originalTransaction", w.Typename))
	}
	first, err := w.Transaction.decode()
	if err != nil {
		return TransactionRequest{}, TransactionRequest{}, err
	}
	original, err := w.OriginalTransaction.decode()
	if err != nil {
		return TransactionRequest{}, TransactionRequest{}, err
	}
	return first, original, nil
}

func (w wireTransaction) decode() (TransactionRequest, error) {
	if !common.IsHexAddress(w.To) {
		return TransactionRequest{}, clierr.New(clierr.CodeUnavailable, "transaction request has invalid to address")
	}
	if !common.IsHexAddress(w.From) {
		return TransactionRequest{}, clierr.New(clierr.CodeUnavailable, "transaction request has invalid from address")
	}
	data, err := decodeCalldata(w.Data)
	if err != nil {
		return TransactionRequest{}, clierr.Wrap(clierr.CodeUnavailable, "decode transaction calldata", err)
	}
	value := new(big.Int)
	if clean := strings.TrimSpace(w.Value); clean != "" {
		if _, ok := value.SetString(clean, 0); !ok || value.Sign() < 0 {
			return TransactionRequest{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("transaction request has invalid value %q", w.Value))
		}
	}
	if w.ChainID <= 0 {
		return TransactionRequest{}, clierr.New(clierr.CodeUnavailable, "transaction request has invalid chain id")
	}
	return TransactionRequest{
		To:         common.HexToAddress(w.To),
		From:       common.HexToAddress(w.From),
		Data:       data,
		Value:      value,
		ChainID:    w.ChainID,
		Operations: append([]OperationType(nil), w.Operations...),
	}, nil
}

func decodeCalldata(v string) (hexutil.Bytes, error) {
	clean := strings.TrimSpace(v)
	if clean == "" || clean == "0x" {
		return hexutil.Bytes{}, nil
	}
	if !strings.HasPrefix(clean, "0x") {
		clean = "0x" + clean
	}
	return hexutil.Decode(clean)
}
