package plan

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OperationType is the semantic code of what a transaction does on-chain.
// It is carried through to confirmation so caches can be refreshed precisely.
type OperationType string

const (
	OperationSupply                  OperationType = "SPOKE_SUPPLY"
	OperationBorrow                  OperationType = "SPOKE_BORROW"
	OperationRepay                   OperationType = "SPOKE_REPAY"
	OperationWithdraw                OperationType = "SPOKE_WITHDRAW"
	OperationLiquidate               OperationType = "SPOKE_LIQUIDATION_CALL"
	OperationSetCollateral           OperationType = "SPOKE_SET_USING_AS_COLLATERAL"
	OperationSetPositionManager      OperationType = "SPOKE_SET_USER_POSITION_MANAGER"
	OperationRenouncePositionManager OperationType = "SPOKE_RENOUNCE_POSITION_MANAGER"
	OperationUpdateRiskPremium       OperationType = "SPOKE_UPDATE_USER_RISK_PREMIUM"
	OperationUpdateDynamicConfig     OperationType = "SPOKE_UPDATE_USER_DYNAMIC_CONFIG"
	OperationApproval                OperationType = "ERC20_APPROVAL"
)

// Signature is a raw secp256k1 signature (r || s || v).
type Signature []byte

func (s Signature) Hex() string {
	return hexutil.Encode(s)
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *Signature) UnmarshalText(input []byte) error {
	var raw hexutil.Bytes
	if err := raw.UnmarshalText(input); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	*s = Signature(raw)
	return nil
}

// SpokeID identifies a spoke contract on a chain.
type SpokeID struct {
	ChainID int64          `json:"chainId"`
	Spoke   common.Address `json:"spoke"`
}

func (s SpokeID) String() string {
	return fmt.Sprintf("eip155:%d/%s", s.ChainID, s.Spoke.Hex())
}

// ReserveID identifies one reserve listed on a spoke. The protocol treats the
// reserve id as opaque; it is compared case-insensitively.
type ReserveID struct {
	ChainID   int64          `json:"chainId"`
	Spoke     common.Address `json:"spoke"`
	ReserveID string         `json:"reserveId"`
}

func (r ReserveID) SpokeID() SpokeID {
	return SpokeID{ChainID: r.ChainID, Spoke: r.Spoke}
}

func (r ReserveID) Equal(other ReserveID) bool {
	return r.ChainID == other.ChainID &&
		r.Spoke == other.Spoke &&
		strings.EqualFold(strings.TrimSpace(r.ReserveID), strings.TrimSpace(other.ReserveID))
}

func (r ReserveID) String() string {
	return fmt.Sprintf("%s/%s", r.SpokeID(), r.ReserveID)
}

func (r ReserveID) Validate() error {
	if r.ChainID <= 0 {
		return fmt.Errorf("reserve chain id must be positive")
	}
	if r.Spoke == (common.Address{}) {
		return fmt.Errorf("reserve spoke address is required")
	}
	if strings.TrimSpace(r.ReserveID) == "" {
		return fmt.Errorf("reserve id is required")
	}
	return nil
}
