package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

// Service is the remote side that computes execution plans and indexes
// confirmed transactions. Repeated plan requests are safe.
type Service interface {
	Supply(ctx context.Context, req plan.SupplyRequest) (plan.ExecutionPlan, error)
	Borrow(ctx context.Context, req plan.BorrowRequest) (plan.ExecutionPlan, error)
	Repay(ctx context.Context, req plan.RepayRequest) (plan.ExecutionPlan, error)
	Withdraw(ctx context.Context, req plan.WithdrawRequest) (plan.ExecutionPlan, error)
	Liquidate(ctx context.Context, req plan.LiquidateRequest) (plan.ExecutionPlan, error)
	SetCollateral(ctx context.Context, req plan.SetCollateralRequest) (plan.ExecutionPlan, error)
	SetPositionManager(ctx context.Context, req plan.SetPositionManagerRequest) (plan.ExecutionPlan, error)
	RenouncePositionManager(ctx context.Context, req plan.RenouncePositionManagerRequest) (plan.ExecutionPlan, error)
	UpdateUserRiskPremium(ctx context.Context, req plan.UpdateUserPositionRequest) (plan.ExecutionPlan, error)
	UpdateUserDynamicConfig(ctx context.Context, req plan.UpdateUserPositionRequest) (plan.ExecutionPlan, error)
	HasProcessedKnownTransaction(ctx context.Context, req plan.TransactionReceiptRequest) (bool, error)
}

// Recorder persists the progress of an orchestrated operation.
type Recorder interface {
	Save(ctx context.Context, action Action) error
}

type Option func(*Orchestrator)

func WithInvalidator(inv Invalidator) Option {
	return func(o *Orchestrator) { o.invalidator = inv }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithReconcile sets how often and for how long the service is asked whether
// it indexed the final transaction. A non-positive timeout disables the check.
func WithReconcile(poll, timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if poll > 0 {
			o.reconcilePoll = poll
		}
		o.reconcileTimeout = timeout
	}
}

func WithInvalidationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.invalidationTimeout = d
		}
	}
}

// Orchestrator drives execution plans to completion through a Handler. It
// holds no per-operation state, so one instance can serve concurrent calls.
type Orchestrator struct {
	service     Service
	handler     Handler
	invalidator Invalidator
	recorder    Recorder
	log         zerolog.Logger

	reconcilePoll       time.Duration
	reconcileTimeout    time.Duration
	invalidationTimeout time.Duration

	inflight sync.WaitGroup
}

func NewOrchestrator(service Service, handler Handler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		service:             service,
		handler:             handler,
		log:                 zerolog.Nop(),
		reconcilePoll:       2 * time.Second,
		reconcileTimeout:    2 * time.Minute,
		invalidationTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type variantSet map[plan.Typename]struct{}

func variants(names ...plan.Typename) variantSet {
	out := make(variantSet, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func (s variantSet) accepts(name plan.Typename) bool {
	_, ok := s[name]
	return ok
}

var (
	acceptAllVariants = variants(
		plan.TypenameTransactionRequest,
		plan.TypenameErc20ApprovalRequired,
		plan.TypenamePreContractActionRequired,
		plan.TypenameInsufficientBalanceError,
	)
	// Operations that never spend allowance.
	acceptNoApproval = variants(
		plan.TypenameTransactionRequest,
		plan.TypenamePreContractActionRequired,
		plan.TypenameInsufficientBalanceError,
	)
)

// operation is everything the shared engine needs to know about one call.
type operation struct {
	name     string
	accepts  variantSet
	chainID  int64
	sender   common.Address
	spoke    string
	reserve  string
	amount   string
	request  func(ctx context.Context, permit mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error)
	affected affected
	surfaces []cache.Query
}

func (o *Orchestrator) Supply(ctx context.Context, req plan.SupplyRequest) (common.Hash, error) {
	if err := validateReserveAmount(req.Reserve, req.Amount, req.Sender, false); err != nil {
		return common.Hash{}, err
	}
	return o.run(ctx, operation{
		name:    "supply",
		accepts: acceptAllVariants,
		chainID: req.Reserve.ChainID,
		sender:  req.Sender,
		spoke:   req.Reserve.Spoke.Hex(),
		reserve: req.Reserve.ReserveID,
		amount:  describeAmount(req.Amount),
		request: func(ctx context.Context, permit mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			r := req
			if sig, ok := permit.Get(); ok {
				r.Amount = r.Amount.WithPermit(sig)
			}
			return o.service.Supply(ctx, r)
		},
		affected: affected{
			users:    []common.Address{req.Sender},
			spokes:   []plan.SpokeID{req.Reserve.SpokeID()},
			reserves: []plan.ReserveID{req.Reserve},
		},
		surfaces: supplySurfaces,
	})
}

func (o *Orchestrator) Borrow(ctx context.Context, req plan.BorrowRequest) (common.Hash, error) {
	if err := validateReserveAmount(req.Reserve, req.Amount, req.Sender, false); err != nil {
		return common.Hash{}, err
	}
	return o.run(ctx, operation{
		name:    "borrow",
		accepts: acceptNoApproval,
		chainID: req.Reserve.ChainID,
		sender:  req.Sender,
		spoke:   req.Reserve.Spoke.Hex(),
		reserve: req.Reserve.ReserveID,
		amount:  describeAmount(req.Amount),
		request: func(ctx context.Context, _ mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			return o.service.Borrow(ctx, req)
		},
		affected: affected{
			users:    []common.Address{req.Sender},
			spokes:   []plan.SpokeID{req.Reserve.SpokeID()},
			reserves: []plan.ReserveID{req.Reserve},
		},
		surfaces: borrowSurfaces,
	})
}

// Repay pays down debt of OnBehalfOf (the sender when unset). Amount may be
// the max sentinel.
func (o *Orchestrator) Repay(ctx context.Context, req plan.RepayRequest) (common.Hash, error) {
	if err := validateReserveAmount(req.Reserve, req.Amount, req.Sender, true); err != nil {
		return common.Hash{}, err
	}
	if req.OnBehalfOf == (common.Address{}) {
		req.OnBehalfOf = req.Sender
	}
	return o.run(ctx, operation{
		name:    "repay",
		accepts: acceptAllVariants,
		chainID: req.Reserve.ChainID,
		sender:  req.Sender,
		spoke:   req.Reserve.Spoke.Hex(),
		reserve: req.Reserve.ReserveID,
		amount:  describeAmount(req.Amount),
		request: func(ctx context.Context, permit mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			r := req
			if sig, ok := permit.Get(); ok {
				r.Amount = r.Amount.WithPermit(sig)
			}
			return o.service.Repay(ctx, r)
		},
		affected: affected{
			users:    uniqueAddresses(req.Sender, req.OnBehalfOf),
			spokes:   []plan.SpokeID{req.Reserve.SpokeID()},
			reserves: []plan.ReserveID{req.Reserve},
		},
		surfaces: borrowSurfaces,
	})
}

func (o *Orchestrator) Withdraw(ctx context.Context, req plan.WithdrawRequest) (common.Hash, error) {
	if err := validateReserveAmount(req.Reserve, req.Amount, req.Sender, true); err != nil {
		return common.Hash{}, err
	}
	return o.run(ctx, operation{
		name:    "withdraw",
		accepts: acceptNoApproval,
		chainID: req.Reserve.ChainID,
		sender:  req.Sender,
		spoke:   req.Reserve.Spoke.Hex(),
		reserve: req.Reserve.ReserveID,
		amount:  describeAmount(req.Amount),
		request: func(ctx context.Context, _ mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			return o.service.Withdraw(ctx, req)
		},
		affected: affected{
			users:    []common.Address{req.Sender},
			spokes:   []plan.SpokeID{req.Reserve.SpokeID()},
			reserves: []plan.ReserveID{req.Reserve},
		},
		surfaces: supplySurfaces,
	})
}

func (o *Orchestrator) Liquidate(ctx context.Context, req plan.LiquidateRequest) (common.Hash, error) {
	if err := validateReserveAmount(req.DebtReserve, req.Amount, req.Sender, true); err != nil {
		return common.Hash{}, err
	}
	if err := req.CollateralReserve.Validate(); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUsage, "invalid collateral reserve", err)
	}
	if req.CollateralReserve.ChainID != req.DebtReserve.ChainID {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "collateral and debt reserves must be on the same chain")
	}
	if req.User == (common.Address{}) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "liquidated user address is required")
	}
	return o.run(ctx, operation{
		name:    "liquidate",
		accepts: acceptAllVariants,
		chainID: req.DebtReserve.ChainID,
		sender:  req.Sender,
		spoke:   req.DebtReserve.Spoke.Hex(),
		reserve: req.DebtReserve.ReserveID,
		amount:  describeAmount(req.Amount),
		request: func(ctx context.Context, permit mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			r := req
			if sig, ok := permit.Get(); ok {
				r.Amount = r.Amount.WithPermit(sig)
			}
			return o.service.Liquidate(ctx, r)
		},
		affected: affected{
			users:    uniqueAddresses(req.User, req.Sender),
			spokes:   uniqueSpokes(req.CollateralReserve.SpokeID(), req.DebtReserve.SpokeID()),
			reserves: []plan.ReserveID{req.CollateralReserve, req.DebtReserve},
		},
		surfaces: liquidateSurfaces,
	})
}

func (o *Orchestrator) SetCollateral(ctx context.Context, req plan.SetCollateralRequest) (common.Hash, error) {
	if err := req.Reserve.Validate(); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUsage, "invalid reserve", err)
	}
	if req.Sender == (common.Address{}) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "sender address is required")
	}
	return o.run(ctx, operation{
		name:    "set_collateral",
		accepts: acceptNoApproval,
		chainID: req.Reserve.ChainID,
		sender:  req.Sender,
		spoke:   req.Reserve.Spoke.Hex(),
		reserve: req.Reserve.ReserveID,
		request: func(ctx context.Context, _ mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			return o.service.SetCollateral(ctx, req)
		},
		affected: affected{
			users:    []common.Address{req.Sender},
			spokes:   []plan.SpokeID{req.Reserve.SpokeID()},
			reserves: []plan.ReserveID{req.Reserve},
		},
		surfaces: collateralSurfaces,
	})
}

func (o *Orchestrator) SetPositionManager(ctx context.Context, req plan.SetPositionManagerRequest) (common.Hash, error) {
	if err := validateSpokeSender(req.Spoke, req.Sender); err != nil {
		return common.Hash{}, err
	}
	if req.Manager == (common.Address{}) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "position manager address is required")
	}
	return o.runPositionUpdate(ctx, "set_position_manager", req.Spoke, req.Sender, []common.Address{req.Sender},
		func(ctx context.Context) (plan.ExecutionPlan, error) {
			return o.service.SetPositionManager(ctx, req)
		})
}

func (o *Orchestrator) RenouncePositionManager(ctx context.Context, req plan.RenouncePositionManagerRequest) (common.Hash, error) {
	if err := validateSpokeSender(req.Spoke, req.Sender); err != nil {
		return common.Hash{}, err
	}
	if req.User == (common.Address{}) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "user address is required")
	}
	return o.runPositionUpdate(ctx, "renounce_position_manager", req.Spoke, req.Sender, uniqueAddresses(req.User, req.Sender),
		func(ctx context.Context) (plan.ExecutionPlan, error) {
			return o.service.RenouncePositionManager(ctx, req)
		})
}

func (o *Orchestrator) UpdateUserRiskPremium(ctx context.Context, req plan.UpdateUserPositionRequest) (common.Hash, error) {
	if err := validateSpokeSender(req.Spoke, req.Sender); err != nil {
		return common.Hash{}, err
	}
	if req.User == (common.Address{}) {
		req.User = req.Sender
	}
	return o.runPositionUpdate(ctx, "update_risk_premium", req.Spoke, req.Sender, []common.Address{req.User},
		func(ctx context.Context) (plan.ExecutionPlan, error) {
			return o.service.UpdateUserRiskPremium(ctx, req)
		})
}

func (o *Orchestrator) UpdateUserDynamicConfig(ctx context.Context, req plan.UpdateUserPositionRequest) (common.Hash, error) {
	if err := validateSpokeSender(req.Spoke, req.Sender); err != nil {
		return common.Hash{}, err
	}
	if req.User == (common.Address{}) {
		req.User = req.Sender
	}
	return o.runPositionUpdate(ctx, "update_dynamic_config", req.Spoke, req.Sender, []common.Address{req.User},
		func(ctx context.Context) (plan.ExecutionPlan, error) {
			return o.service.UpdateUserDynamicConfig(ctx, req)
		})
}

func (o *Orchestrator) runPositionUpdate(ctx context.Context, name string, spoke plan.SpokeID, sender common.Address, users []common.Address, request func(context.Context) (plan.ExecutionPlan, error)) (common.Hash, error) {
	return o.run(ctx, operation{
		name:    name,
		accepts: acceptNoApproval,
		chainID: spoke.ChainID,
		sender:  sender,
		spoke:   spoke.Spoke.Hex(),
		request: func(ctx context.Context, _ mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
			return request(ctx)
		},
		affected: affected{
			users:  users,
			spokes: []plan.SpokeID{spoke},
		},
		surfaces: positionSurfaces,
	})
}

// run records the action, executes the plan and, on success only, fires the
// cache invalidation fan-out.
func (o *Orchestrator) run(ctx context.Context, op operation) (common.Hash, error) {
	if o.service == nil {
		return common.Hash{}, clierr.New(clierr.CodeInternal, "orchestrator has no service")
	}
	if o.handler == nil {
		return common.Hash{}, clierr.New(clierr.CodeInternal, "orchestrator has no handler")
	}
	action := NewAction(NewActionID(), "lend_"+op.name, op.chainID)
	action.Status = ActionStatusRunning
	action.FromAddress = op.sender.Hex()
	action.Spoke = op.spoke
	action.Reserve = op.reserve
	action.InputAmount = op.amount
	o.record(ctx, &action)

	log := o.log.With().Str("op", op.name).Str("action_id", action.ActionID).Logger()
	log.Debug().Int64("chain_id", op.chainID).Msg("requesting execution plan")

	hash, err := o.execute(ctx, op, &action, log)
	if err != nil {
		action.Error = err.Error()
		action.ErrorCode = clierr.Kind(err).String()
		action.Status = ActionStatusFailed
		if clierr.Is(err, clierr.CodeCancelled) {
			action.Status = ActionStatusCancelled
		}
		o.record(context.WithoutCancel(ctx), &action)
		log.Debug().Err(err).Str("code", action.ErrorCode).Msg("operation failed")
		return common.Hash{}, err
	}

	action.Status = ActionStatusCompleted
	action.TxHash = hash.Hex()
	o.record(ctx, &action)
	log.Info().Str("tx_hash", hash.Hex()).Msg("operation confirmed")

	o.fanOut(op.name, op.affected.invalidations(op.surfaces))
	return hash, nil
}

func (o *Orchestrator) execute(ctx context.Context, op operation, action *Action, log zerolog.Logger) (common.Hash, error) {
	p, err := o.requestPlan(ctx, op, mo.None[plan.PermitSignature]())
	if err != nil {
		return common.Hash{}, err
	}
	action.PlanType = p.Typename()
	log.Debug().Str("plan", string(p.Typename())).Msg("execution plan received")
	if !op.accepts.accepts(p.Typename()) {
		return common.Hash{}, clierr.Unexpected(fmt.Sprintf("%s does not support %s plans", op.name, p.Typename()))
	}

	switch v := p.(type) {
	case *plan.TransactionRequest:
		return o.finish(ctx, action, v)

	case *plan.Erc20ApprovalRequired:
		result, err := o.invoke(ctx, action, StepTypeApproval, v, &v.Transaction)
		if err != nil {
			return common.Hash{}, err
		}
		switch r := result.(type) {
		case Signed:
			permit, ok := v.BySignature.Get()
			if !ok {
				err := clierr.Unexpected("handler returned a signature but the approval plan does not support permits")
				o.failStep(ctx, action, err)
				return common.Hash{}, err
			}
			step := action.LastStep()
			step.Type = StepTypePermit
			step.Status = StepStatusSigned
			o.record(ctx, action)
			return o.finishWithPermit(ctx, op, action, plan.PermitSignature{Deadline: permit.Deadline(), Value: r.Signature})
		case *PendingTransaction:
			if _, err := o.await(ctx, action, r); err != nil {
				return common.Hash{}, err
			}
			return o.finish(ctx, action, &v.OriginalTransaction)
		default:
			return common.Hash{}, clierr.Unexpected(fmt.Sprintf("unsupported handler result %T", result))
		}

	case *plan.PreContractActionRequired:
		result, err := o.invoke(ctx, action, StepTypePreContract, v, &v.Transaction)
		if err != nil {
			return common.Hash{}, err
		}
		pending, ok := result.(*PendingTransaction)
		if !ok {
			err := clierr.Unexpected("handler returned a signature for a pre-contract action")
			o.failStep(ctx, action, err)
			return common.Hash{}, err
		}
		if _, err := o.await(ctx, action, pending); err != nil {
			return common.Hash{}, err
		}
		return o.finish(ctx, action, &v.OriginalTransaction)

	case *plan.InsufficientBalanceError:
		return common.Hash{}, insufficientBalance(v)

	default:
		return common.Hash{}, clierr.Unexpected(fmt.Sprintf("unhandled execution plan %T", p))
	}
}

// finishWithPermit re-requests the plan with the signed permit embedded. With
// the allowance satisfied the service must answer with a plain transaction.
func (o *Orchestrator) finishWithPermit(ctx context.Context, op operation, action *Action, permit plan.PermitSignature) (common.Hash, error) {
	p, err := o.requestPlan(ctx, op, mo.Some(permit))
	if err != nil {
		return common.Hash{}, err
	}
	switch v := p.(type) {
	case *plan.TransactionRequest:
		return o.finish(ctx, action, v)
	case *plan.InsufficientBalanceError:
		return common.Hash{}, insufficientBalance(v)
	default:
		return common.Hash{}, clierr.Unexpected(fmt.Sprintf("expected a transaction request after permit, got %s", p.Typename()))
	}
}

// finish submits the final transaction, waits for it and reconciles it with
// the service.
func (o *Orchestrator) finish(ctx context.Context, action *Action, tx *plan.TransactionRequest) (common.Hash, error) {
	result, err := o.invoke(ctx, action, StepTypeLend, tx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	if _, signed := result.(Signed); signed {
		err := clierr.Unexpected("handler returned a signature instead of submitting the transaction")
		o.failStep(ctx, action, err)
		return common.Hash{}, err
	}
	res, err := o.await(ctx, action, Ensure(result))
	if err != nil {
		return common.Hash{}, err
	}
	if res.TxHash == (common.Hash{}) {
		return common.Hash{}, clierr.Unexpected("handler did not report a transaction hash")
	}
	operations := res.Operations
	if len(operations) == 0 {
		operations = tx.Operations
	}
	if err := o.reconcile(ctx, plan.TransactionReceiptRequest{
		TxHash:     res.TxHash,
		ChainID:    tx.ChainID,
		Operations: operations,
	}); err != nil {
		return common.Hash{}, err
	}
	return res.TxHash, nil
}

func (o *Orchestrator) requestPlan(ctx context.Context, op operation, permit mo.Option[plan.PermitSignature]) (plan.ExecutionPlan, error) {
	p, err := op.request(ctx, permit)
	if err != nil {
		if _, typed := clierr.As(err); typed {
			return nil, err
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("request %s plan", op.name), err)
	}
	if p == nil {
		return nil, clierr.Unexpected(fmt.Sprintf("service returned no plan for %s", op.name))
	}
	return p, nil
}

// invoke calls the handler once for leaf and records the step.
func (o *Orchestrator) invoke(ctx context.Context, action *Action, stepType StepType, leaf plan.Leaf, tx *plan.TransactionRequest) (HandlerResult, error) {
	step := ActionStep{
		StepID:     newStepID(action.ActionID, len(action.Steps)),
		Type:       stepType,
		Status:     StepStatusPending,
		ChainID:    tx.ChainID,
		Target:     tx.To.Hex(),
		Data:       tx.Data.String(),
		Operations: tx.Operations,
	}
	if tx.Value != nil {
		step.Value = tx.Value.String()
	}
	step.Description = leafDescription(leaf)
	action.Steps = append(action.Steps, step)
	action.Touch()
	o.record(ctx, action)

	opts := defaultHandlerOptions()
	result, err := o.handler.Handle(ctx, leaf, opts)
	if err != nil {
		if _, typed := clierr.As(err); !typed {
			if errors.Is(err, context.Canceled) {
				err = opts.Cancel(fmt.Sprintf("%s step interrupted", stepType))
			} else {
				err = clierr.Signing(fmt.Sprintf("%s step failed", stepType), err)
			}
		}
		o.failStep(ctx, action, err)
		return nil, err
	}
	if pending, ok := result.(*PendingTransaction); result == nil || (ok && pending == nil) {
		err := clierr.Unexpected("handler returned neither a signature nor a pending transaction")
		o.failStep(ctx, action, err)
		return nil, err
	}
	if _, ok := result.(*PendingTransaction); ok {
		action.LastStep().Status = StepStatusSubmitted
		action.Touch()
		o.record(ctx, action)
	}
	return result, nil
}

func (o *Orchestrator) await(ctx context.Context, action *Action, pending *PendingTransaction) (TransactionResult, error) {
	res, err := pending.Wait(ctx)
	step := action.LastStep()
	if step != nil && res.TxHash != (common.Hash{}) {
		step.TxHash = res.TxHash.Hex()
	}
	if err != nil {
		o.failStep(ctx, action, err)
		return res, err
	}
	if step != nil {
		step.Status = StepStatusConfirmed
	}
	action.Touch()
	o.record(ctx, action)
	return res, nil
}

// reconcile polls the service until it reports the transaction as processed.
// Reads issued afterwards observe the new state.
func (o *Orchestrator) reconcile(ctx context.Context, req plan.TransactionReceiptRequest) error {
	if o.reconcileTimeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(o.reconcileTimeout)
	ticker := time.NewTicker(o.reconcilePoll)
	defer ticker.Stop()
	for {
		processed, err := o.service.HasProcessedKnownTransaction(ctx, req)
		if err != nil {
			o.log.Debug().Err(err).Str("tx_hash", req.TxHash.Hex()).Msg("reconciliation check failed")
		}
		if processed {
			return nil
		}
		if time.Now().After(deadline) {
			e := clierr.Timeout("transaction confirmed but not yet processed by the service", err)
			e.TxHash = req.TxHash.Hex()
			return e
		}
		select {
		case <-ctx.Done():
			e := clierr.Timeout("reconciliation interrupted", ctx.Err())
			e.TxHash = req.TxHash.Hex()
			return e
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) failStep(ctx context.Context, action *Action, err error) {
	if step := action.LastStep(); step != nil {
		step.Status = StepStatusFailed
		step.Error = err.Error()
		step.ErrorCode = clierr.Kind(err).String()
	}
	action.Touch()
	o.record(context.WithoutCancel(ctx), action)
}

func (o *Orchestrator) record(ctx context.Context, action *Action) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Save(ctx, *action); err != nil {
		o.log.Warn().Err(err).Str("action_id", action.ActionID).Msg("failed to record action")
	}
}

func insufficientBalance(v *plan.InsufficientBalanceError) error {
	return clierr.Validation("insufficient balance", v)
}

func leafDescription(leaf plan.Leaf) string {
	switch v := leaf.(type) {
	case *plan.Erc20ApprovalRequired:
		return strings.TrimSpace(v.Reason)
	case *plan.PreContractActionRequired:
		return strings.TrimSpace(v.Reason)
	default:
		return ""
	}
}

func validateReserveAmount(reserve plan.ReserveID, amount plan.Amount, sender common.Address, allowMax bool) error {
	if err := reserve.Validate(); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid reserve", err)
	}
	if err := amount.Validate(allowMax); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid amount", err)
	}
	if sender == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "sender address is required")
	}
	return nil
}

func validateSpokeSender(spoke plan.SpokeID, sender common.Address) error {
	if spoke.ChainID <= 0 || spoke.Spoke == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "spoke chain id and address are required")
	}
	if sender == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "sender address is required")
	}
	return nil
}

func describeAmount(a plan.Amount) string {
	if a.Max {
		return "max"
	}
	return a.Value.String()
}

func uniqueAddresses(addrs ...common.Address) []common.Address {
	out := make([]common.Address, 0, len(addrs))
	seen := map[common.Address]struct{}{}
	for _, a := range addrs {
		if a == (common.Address{}) {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func uniqueSpokes(spokes ...plan.SpokeID) []plan.SpokeID {
	out := make([]plan.SpokeID, 0, len(spokes))
	for _, s := range spokes {
		dup := false
		for _, existing := range out {
			if existing == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}
