package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/execution"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

type nonceKey struct {
	account common.Address
	chainID int64
}

var (
	nonceLocksMu sync.Mutex
	nonceLocks   = map[nonceKey]*sync.Mutex{}
)

// acquireSignerNonceLock serialises nonce allocation and broadcast per
// account and chain within the process.
func acquireSignerNonceLock(account common.Address, chainID int64) func() {
	key := nonceKey{account: account, chainID: chainID}
	nonceLocksMu.Lock()
	mu, ok := nonceLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		nonceLocks[key] = mu
	}
	nonceLocksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// submit signs and broadcasts tx and returns a pending transaction that polls
// for its receipt.
func (h *Handler) submit(ctx context.Context, kind string, tx *plan.TransactionRequest, reason string, opts execution.HandlerOptions) (execution.HandlerResult, error) {
	if err := h.checkSender(tx.From); err != nil {
		return nil, err
	}
	client, err := h.client(ctx, tx.ChainID)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != tx.ChainID {
		return nil, clierr.Signing(fmt.Sprintf("rpc endpoint is on chain %d but the transaction targets chain %d", chainID.Int64(), tx.ChainID), nil)
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if err := h.confirm(ctx, Prompt{
		Kind:       kind,
		ChainID:    tx.ChainID,
		From:       h.signer.Address(),
		To:         tx.To,
		Value:      value,
		Operations: tx.Operations,
		Reason:     reason,
	}, opts); err != nil {
		return nil, err
	}

	to := tx.To
	msg := ethereum.CallMsg{From: h.signer.Address(), To: &to, Value: value, Data: tx.Data}
	if h.opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return nil, clierr.Signing("simulate transaction (eth_call)", err)
		}
	}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, clierr.Signing("estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * h.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, h.opts.MaxPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, h.opts.MaxFeeGwei)
	if err != nil {
		return nil, err
	}

	unlock := acquireSignerNonceLock(h.signer.Address(), tx.ChainID)
	nonce, err := client.PendingNonceAt(ctx, h.signer.Address())
	if err != nil {
		unlock()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      tx.Data,
	})
	signed, err := h.signer.SignTx(chainID, unsigned)
	if err != nil {
		unlock()
		return nil, clierr.Signing("sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		unlock()
		return nil, clierr.Signing("broadcast transaction", err)
	}
	unlock()

	hash := signed.Hash()
	h.log.Info().Str("kind", kind).Int64("chain_id", tx.ChainID).Str("tx_hash", hash.Hex()).Uint64("nonce", nonce).Msg("transaction submitted")
	return execution.NewPendingTransaction(hash, tx.Operations, func(ctx context.Context) error {
		return h.waitForReceipt(ctx, client, hash)
	}), nil
}

func (h *Handler) waitForReceipt(ctx context.Context, client chainClient, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, h.opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return clierr.Transaction("transaction reverted on-chain", hash.Hex(), nil)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			h.log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("receipt poll failed")
		}
		select {
		case <-waitCtx.Done():
			e := clierr.Timeout("timed out waiting for receipt", waitCtx.Err())
			e.TxHash = hash.Hex()
			return e
		case <-ticker.C:
		}
	}
}

func resolveTipCap(ctx context.Context, client chainClient, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
