package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/spoke-cli/internal/execution"
	"github.com/ggonzalez94/spoke-cli/internal/id"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

type reserveArgs struct {
	chain   string
	spoke   string
	reserve string
}

func (a *reserveArgs) register(cmd *cobra.Command, reserveFlag, usage string) {
	cmd.Flags().StringVar(&a.chain, "chain", "", "Chain identifier (slug, chain id or CAIP-2)")
	cmd.Flags().StringVar(&a.spoke, "spoke", "", "Spoke contract address")
	cmd.Flags().StringVar(&a.reserve, reserveFlag, "", usage)
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired(reserveFlag)
}

func (a reserveArgs) parse() (plan.ReserveID, error) {
	return id.ParseReserve(a.chain, a.spoke, a.reserve)
}

type amountArgs struct {
	decimal  string
	base     string
	decimals int
	native   bool
}

func (a *amountArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.decimal, "amount", "", "Amount in token units, or max")
	cmd.Flags().StringVar(&a.base, "amount-base", "", "Amount in base units")
	cmd.Flags().IntVar(&a.decimals, "decimals", 18, "Token decimals for --amount-base and precision checks")
	cmd.Flags().BoolVar(&a.native, "native", false, "Amount is the chain's native token")
}

func (a amountArgs) parse() (plan.Amount, error) {
	return id.ParseAmount(id.AmountInput{
		Decimal:   a.decimal,
		BaseUnits: a.base,
		Decimals:  a.decimals,
		Native:    a.native,
	})
}

func (s *runtimeState) addLendCommands(root *cobra.Command) {
	root.AddCommand(s.newSupplyCommand())
	root.AddCommand(s.newBorrowCommand())
	root.AddCommand(s.newRepayCommand())
	root.AddCommand(s.newWithdrawCommand())
	root.AddCommand(s.newLiquidateCommand())
}

func (s *runtimeState) newSupplyCommand() *cobra.Command {
	var reserve reserveArgs
	var amount amountArgs
	var flags execFlags
	var enableCollateral bool
	cmd := &cobra.Command{
		Use:   "supply",
		Short: "Supply assets to a spoke reserve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserveID, err := reserve.parse()
			if err != nil {
				return err
			}
			amt, err := amount.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.SupplyRequest{Reserve: reserveID, Amount: amt, Sender: txSigner.Address(), EnableCollateral: enableCollateral}
			return s.runOperation(cmd, "supply", reserveID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.Supply(ctx, req)
			})
		},
	}
	reserve.register(cmd, "reserve", "Reserve id (or <spoke>/<reserve>)")
	amount.register(cmd)
	flags.register(cmd)
	cmd.Flags().BoolVar(&enableCollateral, "enable-collateral", true, "Use the supplied asset as collateral")
	return cmd
}

func (s *runtimeState) newBorrowCommand() *cobra.Command {
	var reserve reserveArgs
	var amount amountArgs
	var flags execFlags
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Borrow assets from a spoke reserve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserveID, err := reserve.parse()
			if err != nil {
				return err
			}
			amt, err := amount.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.BorrowRequest{Reserve: reserveID, Amount: amt, Sender: txSigner.Address()}
			return s.runOperation(cmd, "borrow", reserveID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.Borrow(ctx, req)
			})
		},
	}
	reserve.register(cmd, "reserve", "Reserve id (or <spoke>/<reserve>)")
	amount.register(cmd)
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newRepayCommand() *cobra.Command {
	var reserve reserveArgs
	var amount amountArgs
	var flags execFlags
	var onBehalfOf string
	cmd := &cobra.Command{
		Use:   "repay",
		Short: "Repay debt on a spoke reserve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserveID, err := reserve.parse()
			if err != nil {
				return err
			}
			amt, err := amount.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			owner := txSigner.Address()
			if onBehalfOf != "" {
				if owner, err = id.ParseAddress(onBehalfOf, "--on-behalf-of"); err != nil {
					return err
				}
			}
			req := plan.RepayRequest{Reserve: reserveID, Amount: amt, Sender: txSigner.Address(), OnBehalfOf: owner}
			return s.runOperation(cmd, "repay", reserveID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.Repay(ctx, req)
			})
		},
	}
	reserve.register(cmd, "reserve", "Reserve id (or <spoke>/<reserve>)")
	amount.register(cmd)
	flags.register(cmd)
	cmd.Flags().StringVar(&onBehalfOf, "on-behalf-of", "", "Position owner address (defaults to signer)")
	return cmd
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	var reserve reserveArgs
	var amount amountArgs
	var flags execFlags
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw supplied assets from a spoke reserve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserveID, err := reserve.parse()
			if err != nil {
				return err
			}
			amt, err := amount.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.WithdrawRequest{Reserve: reserveID, Amount: amt, Sender: txSigner.Address()}
			return s.runOperation(cmd, "withdraw", reserveID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.Withdraw(ctx, req)
			})
		},
	}
	reserve.register(cmd, "reserve", "Reserve id (or <spoke>/<reserve>)")
	amount.register(cmd)
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newLiquidateCommand() *cobra.Command {
	var collateral reserveArgs
	var debtReserve, user string
	var amount amountArgs
	var flags execFlags
	var receiveShares bool
	cmd := &cobra.Command{
		Use:   "liquidate",
		Short: "Liquidate an unhealthy position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			collateralID, err := collateral.parse()
			if err != nil {
				return err
			}
			debtID, err := id.ParseReserve(collateral.chain, collateral.spoke, debtReserve)
			if err != nil {
				return err
			}
			borrower, err := id.ParseAddress(user, "--user")
			if err != nil {
				return err
			}
			amt, err := amount.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.LiquidateRequest{
				CollateralReserve: collateralID,
				DebtReserve:       debtID,
				User:              borrower,
				Amount:            amt,
				Sender:            txSigner.Address(),
				ReceiveShares:     receiveShares,
			}
			return s.runOperation(cmd, "liquidate", collateralID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.Liquidate(ctx, req)
			})
		},
	}
	collateral.register(cmd, "collateral-reserve", "Collateral reserve id (or <spoke>/<reserve>)")
	cmd.Flags().StringVar(&debtReserve, "debt-reserve", "", "Debt reserve id (or <spoke>/<reserve>)")
	cmd.Flags().StringVar(&user, "user", "", "Address of the position being liquidated")
	amount.register(cmd)
	flags.register(cmd)
	cmd.Flags().BoolVar(&receiveShares, "receive-shares", false, "Receive collateral as supply shares instead of the underlying")
	_ = cmd.MarkFlagRequired("debt-reserve")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
