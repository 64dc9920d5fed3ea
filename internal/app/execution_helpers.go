package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/execution"
	execsigner "github.com/ggonzalez94/spoke-cli/internal/execution/signer"
	"github.com/ggonzalez94/spoke-cli/internal/execution/wallet"
	"github.com/ggonzalez94/spoke-cli/internal/id"
	"github.com/ggonzalez94/spoke-cli/internal/logger"
	"github.com/ggonzalez94/spoke-cli/internal/model"
	"github.com/ggonzalez94/spoke-cli/internal/schema"
)

// execFlags are shared by every command that signs.
type execFlags struct {
	keySource          string
	privateKey         string
	fromAddress        string
	rpcURL             string
	maxFeeGwei         string
	maxPriorityFeeGwei string
	gasMultiplier      float64
	preferPermit       bool
	simulate           bool
	yes                bool
}

func (f *execFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Private key hex override for local signer (less safe)")
	cmd.Flags().StringVar(&f.fromAddress, "from-address", "", "Expected sender address (defaults to signer address)")
	cmd.Flags().StringVar(&f.rpcURL, "rpc-url", "", "RPC URL override for the selected chain")
	cmd.Flags().StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&f.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().Float64Var(&f.gasMultiplier, "gas-multiplier", 0, "Gas estimate safety multiplier (default from config)")
	cmd.Flags().BoolVar(&f.preferPermit, "prefer-permit", false, "Sign permits instead of sending approval transactions when offered")
	cmd.Flags().BoolVar(&f.simulate, "simulate", true, "Run an eth_call preflight before each submission")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "Skip interactive confirmation")
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[schema.AnnotationSigns] = "true"
}

// actionRecorder persists action progress and remembers the latest record so
// the command can report it.
type actionRecorder struct {
	store *execution.Store

	mu   sync.Mutex
	last *execution.Action
}

func (r *actionRecorder) Save(ctx context.Context, action execution.Action) error {
	r.mu.Lock()
	r.last = &action
	r.mu.Unlock()
	return r.store.Save(ctx, action)
}

func (r *actionRecorder) Last() (execution.Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return execution.Action{}, false
	}
	return *r.last, true
}

// signerFor loads the local signer and checks it against --from-address.
func signerFor(flags execFlags) (*execsigner.LocalSigner, error) {
	txSigner, err := execsigner.NewLocalSignerFromInputs(flags.keySource, flags.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigning, "load signer", err)
	}
	if strings.TrimSpace(flags.fromAddress) != "" {
		from, err := id.ParseAddress(flags.fromAddress, "--from-address")
		if err != nil {
			return nil, err
		}
		if from != txSigner.Address() {
			return nil, clierr.New(clierr.CodeSigning, "signer address does not match --from-address")
		}
	}
	return txSigner, nil
}

// newOrchestrator wires the service, a wallet handler for txSigner, the
// action store and the query cache into one orchestrator.
func (s *runtimeState) newOrchestrator(chainID int64, txSigner execsigner.Signer, flags execFlags) (*execution.Orchestrator, *actionRecorder, error) {
	service, err := s.ensureService()
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureActionStore(); err != nil {
		return nil, nil, err
	}

	rpcURLs := make(map[int64]string, len(s.settings.RPCURLs)+1)
	for k, v := range s.settings.RPCURLs {
		rpcURLs[k] = v
	}
	if strings.TrimSpace(flags.rpcURL) != "" {
		rpcURLs[chainID] = strings.TrimSpace(flags.rpcURL)
	}
	gasMultiplier := s.settings.GasMultiplier
	if flags.gasMultiplier > 0 {
		gasMultiplier = flags.gasMultiplier
	}
	opts := wallet.Options{
		RPCURLs:            rpcURLs,
		PollInterval:       s.settings.PollInterval,
		StepTimeout:        s.settings.StepTimeout,
		GasMultiplier:      gasMultiplier,
		MaxFeeGwei:         flags.maxFeeGwei,
		MaxPriorityFeeGwei: flags.maxPriorityFeeGwei,
		PreferPermit:       flags.preferPermit || s.settings.PreferPermit,
		Simulate:           flags.simulate,
	}
	if !flags.yes {
		if !isInteractive(s.runner.stdin) {
			return nil, nil, clierr.New(clierr.CodeUsage, "confirmation requires an interactive terminal; pass --yes to skip it")
		}
		opts.Confirm = s.promptConfirm
	}
	s.handler = wallet.New(txSigner, opts, logger.GetForComponent("wallet"))

	recorder := &actionRecorder{store: s.actionStore}
	orchOpts := []execution.Option{
		execution.WithRecorder(recorder),
		execution.WithLogger(logger.GetForComponent("execution")),
		execution.WithReconcile(s.settings.PollInterval, s.settings.ReconcileTimeout),
		execution.WithInvalidationTimeout(s.settings.InvalidationTimeout),
	}
	if s.cache != nil {
		orchOpts = append(orchOpts, execution.WithInvalidator(s.cache))
	}
	s.orchestrator = execution.NewOrchestrator(service, s.handler, orchOpts...)
	return s.orchestrator, recorder, nil
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s *runtimeState) promptConfirm(ctx context.Context, p wallet.Prompt) (bool, error) {
	_, _ = fmt.Fprintf(s.runner.stderr, "Sign %s? [y/N] ", p.String())
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(s.runner.stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case v := <-answer:
		return v == "y" || v == "yes", nil
	}
}

type operationFunc func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error)

// runOperation signs and drives one lending operation, then reports the
// recorded action. An interrupt cancels the operation.
func (s *runtimeState) runOperation(cmd *cobra.Command, name string, chainID int64, flags execFlags, txSigner execsigner.Signer, run operationFunc) error {
	orch, recorder, err := s.newOrchestrator(chainID, txSigner, flags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	hash, err := run(ctx, orch)
	action, recorded := recorder.Last()
	if err != nil {
		if recorded {
			s.lastWarnings = append(s.lastWarnings, "action "+action.ActionID+" recorded as "+string(action.Status))
		}
		return err
	}
	result := model.OperationResult{
		Operation: name,
		ChainID:   chainID,
		TxHash:    hash.Hex(),
		Status:    string(execution.ActionStatusCompleted),
	}
	if recorded {
		result.ActionID = action.ActionID
		result.Status = string(action.Status)
		result.Steps = len(action.Steps)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, nil, cacheMetaBypass())
}
