// Package wallet is a Handler backed by a local key and a JSON-RPC endpoint.
// It submits plan leaves as EIP-1559 transactions and, when allowed, answers
// approval plans with a signed permit instead.
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
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/execution"
	"github.com/ggonzalez94/spoke-cli/internal/execution/signer"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
	"github.com/ggonzalez94/spoke-cli/internal/registry"
)

// chainClient is the subset of ethclient.Client the handler uses.
type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Options struct {
	RPCURLs            map[int64]string
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	PreferPermit       bool
	// Simulate runs each transaction through eth_call before estimating gas.
	Simulate bool
	// Confirm is asked before anything is signed. Returning false cancels
	// the operation. Nil approves everything.
	Confirm func(ctx context.Context, p Prompt) (bool, error)
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
		Simulate:      true,
	}
}

// Prompt describes what the user is asked to approve.
type Prompt struct {
	Kind       string
	ChainID    int64
	From       common.Address
	To         common.Address
	Value      *big.Int
	Operations []plan.OperationType
	Reason     string
}

func (p Prompt) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on chain %d to %s", p.Kind, p.ChainID, p.To.Hex())
	if p.Value != nil && p.Value.Sign() > 0 {
		fmt.Fprintf(&b, " with value %s wei", p.Value.String())
	}
	if len(p.Operations) > 0 {
		ops := make([]string, 0, len(p.Operations))
		for _, op := range p.Operations {
			ops = append(ops, string(op))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(ops, ","))
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, " (%s)", p.Reason)
	}
	return b.String()
}

type Handler struct {
	signer signer.Signer
	opts   Options
	log    zerolog.Logger
	dial   func(ctx context.Context, url string) (chainClient, error)

	mu      sync.Mutex
	clients map[int64]chainClient
}

func New(s signer.Signer, opts Options, log zerolog.Logger) *Handler {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaults.StepTimeout
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	return &Handler{
		signer: s,
		opts:   opts,
		log:    log,
		dial: func(ctx context.Context, url string) (chainClient, error) {
			return ethclient.DialContext(ctx, url)
		},
		clients: map[int64]chainClient{},
	}
}

// Close releases every RPC connection opened by the handler.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func (h *Handler) Handle(ctx context.Context, leaf plan.Leaf, opts execution.HandlerOptions) (execution.HandlerResult, error) {
	if h.signer == nil {
		return nil, clierr.Signing("no signer configured", nil)
	}
	switch v := leaf.(type) {
	case *plan.TransactionRequest:
		return h.submit(ctx, "transaction", v, "", opts)
	case *plan.Erc20ApprovalRequired:
		if permit, ok := v.BySignature.Get(); ok && h.opts.PreferPermit {
			return h.signPermit(ctx, v, permit, opts)
		}
		if err := validateApproval(v); err != nil {
			return nil, err
		}
		return h.submit(ctx, "approval", &v.Transaction, v.Reason, opts)
	case *plan.PreContractActionRequired:
		return h.submit(ctx, "prerequisite transaction", &v.Transaction, v.Reason, opts)
	default:
		return nil, clierr.Unexpected(fmt.Sprintf("wallet cannot handle %T", leaf))
	}
}

func (h *Handler) confirm(ctx context.Context, p Prompt, opts execution.HandlerOptions) error {
	if h.opts.Confirm == nil {
		return nil
	}
	ok, err := h.opts.Confirm(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cancelWith(opts, fmt.Sprintf("confirmation of %s interrupted", p.Kind))
		}
		return clierr.Signing("confirmation prompt failed", err)
	}
	if !ok {
		return cancelWith(opts, fmt.Sprintf("user rejected %s", p.Kind))
	}
	return nil
}

func cancelWith(opts execution.HandlerOptions, msg string) error {
	if opts.Cancel == nil {
		return clierr.Cancelled(msg)
	}
	return opts.Cancel(msg)
}

func (h *Handler) signPermit(ctx context.Context, v *plan.Erc20ApprovalRequired, permit plan.PermitTypedData, opts execution.HandlerOptions) (execution.HandlerResult, error) {
	if err := h.checkSender(v.Transaction.From); err != nil {
		return nil, err
	}
	if err := h.confirm(ctx, Prompt{
		Kind:    "permit signature",
		ChainID: v.Transaction.ChainID,
		From:    h.signer.Address(),
		To:      v.Transaction.To,
		Reason:  v.Reason,
	}, opts); err != nil {
		return nil, err
	}
	sig, err := h.signer.SignTypedData(permit.TypedData)
	if err != nil {
		return nil, clierr.Signing("sign permit", err)
	}
	h.log.Debug().Str("token", v.Transaction.To.Hex()).Int64("deadline", permit.Deadline()).Msg("signed permit")
	return execution.Signed{Signature: plan.Signature(sig)}, nil
}

func (h *Handler) checkSender(from common.Address) error {
	if from != (common.Address{}) && from != h.signer.Address() {
		return clierr.Signing(fmt.Sprintf("plan expects sender %s but the signer is %s", from.Hex(), h.signer.Address().Hex()), nil)
	}
	return nil
}

func (h *Handler) client(ctx context.Context, chainID int64) (chainClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[chainID]; ok {
		return c, nil
	}
	url, err := registry.ResolveRPCURL(h.opts.RPCURLs[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	c, err := h.dial(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	h.clients[chainID] = c
	return c, nil
}
