package execution

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

// TransactionResult is what a confirmed transaction leaves behind.
type TransactionResult struct {
	TxHash     common.Hash          `json:"tx_hash"`
	Operations []plan.OperationType `json:"operations,omitempty"`
}

// PendingTransaction separates "submitted" from "confirmed". Wait runs the
// underlying confirmation exactly once; later calls return the same outcome.
type PendingTransaction struct {
	once   sync.Once
	wait   func(ctx context.Context) (TransactionResult, error)
	result TransactionResult
	err    error
}

// NewPendingTransaction wraps an already submitted transaction. wait blocks
// until the transaction is confirmed or fails.
func NewPendingTransaction(txHash common.Hash, operations []plan.OperationType, wait func(ctx context.Context) error) *PendingTransaction {
	ops := append([]plan.OperationType(nil), operations...)
	return DeferTransaction(func(ctx context.Context) (TransactionResult, error) {
		if wait != nil {
			if err := wait(ctx); err != nil {
				return TransactionResult{TxHash: txHash, Operations: ops}, err
			}
		}
		return TransactionResult{TxHash: txHash, Operations: ops}, nil
	})
}

// DeferTransaction wraps a computation that itself determines the hash and
// waits for confirmation.
func DeferTransaction(fn func(ctx context.Context) (TransactionResult, error)) *PendingTransaction {
	return &PendingTransaction{wait: fn}
}

// Wait resolves to the confirmed transaction or a typed error. Untyped errors
// from the underlying watcher are reported as transaction errors.
func (p *PendingTransaction) Wait(ctx context.Context) (TransactionResult, error) {
	p.once.Do(func() {
		if p.wait == nil {
			return
		}
		p.result, p.err = p.wait(ctx)
		if p.err != nil {
			if _, typed := clierr.As(p.err); !typed {
				p.err = clierr.Transaction("transaction failed", hashOrEmpty(p.result.TxHash), p.err)
			}
		}
	})
	return p.result, p.err
}

func (*PendingTransaction) isHandlerResult() {}

// Ensure folds either handler outcome into a PendingTransaction. A signature
// becomes a pending transaction that resolves immediately with a zero hash.
func Ensure(result HandlerResult) *PendingTransaction {
	switch r := result.(type) {
	case *PendingTransaction:
		if r == nil {
			return &PendingTransaction{}
		}
		return r
	default:
		return &PendingTransaction{}
	}
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
