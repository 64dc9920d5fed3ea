package wallet

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
	"github.com/ggonzalez94/spoke-cli/internal/registry"
)

var (
	erc20ABI        = mustABI(registry.ERC20MinimalABI)
	approveSelector = erc20ABI.Methods["approve"].ID
)

// validateApproval refuses approval transactions that are not a plain
// approve(spender, amount) for the contract the original transaction calls.
func validateApproval(v *plan.Erc20ApprovalRequired) error {
	data := v.Transaction.Data
	if len(data) < 4 || !bytes.Equal(data[:4], approveSelector) {
		return clierr.Signing("approval transaction must call ERC20 approve(spender,amount)", nil)
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.Signing("approval calldata is invalid", err)
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.Signing("approval has an invalid spender", nil)
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount == nil || amount.Sign() <= 0 {
		return clierr.Signing("approval has an invalid amount", nil)
	}
	if spender != v.OriginalTransaction.To {
		return clierr.Signing(fmt.Sprintf("approval spender %s does not match the operation target %s", spender.Hex(), v.OriginalTransaction.To.Hex()), nil)
	}
	return nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
