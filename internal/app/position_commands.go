package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/spoke-cli/internal/execution"
	"github.com/ggonzalez94/spoke-cli/internal/id"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

func (s *runtimeState) addPositionCommands(root *cobra.Command) {
	collateral := &cobra.Command{Use: "collateral", Short: "Toggle supplied reserves as collateral"}
	collateral.AddCommand(s.newCollateralCommand("enable", true))
	collateral.AddCommand(s.newCollateralCommand("disable", false))
	root.AddCommand(collateral)

	manager := &cobra.Command{Use: "position-manager", Short: "Manage delegated position managers"}
	manager.AddCommand(s.newSetPositionManagerCommand("set", true))
	manager.AddCommand(s.newSetPositionManagerCommand("revoke", false))
	manager.AddCommand(s.newRenouncePositionManagerCommand())
	root.AddCommand(manager)

	position := &cobra.Command{Use: "position", Short: "Refresh position parameters on a spoke"}
	position.AddCommand(s.newPositionUpdateCommand("update-risk-premium", "Recompute a user's risk premium", func(orch *execution.Orchestrator) func(context.Context, plan.UpdateUserPositionRequest) (common.Hash, error) {
		return orch.UpdateUserRiskPremium
	}))
	position.AddCommand(s.newPositionUpdateCommand("update-dynamic-config", "Refresh a user's dynamic reserve config", func(orch *execution.Orchestrator) func(context.Context, plan.UpdateUserPositionRequest) (common.Hash, error) {
		return orch.UpdateUserDynamicConfig
	}))
	root.AddCommand(position)
}

func (s *runtimeState) newCollateralCommand(use string, enable bool) *cobra.Command {
	var reserve reserveArgs
	var flags execFlags
	short := "Use a supplied reserve as collateral"
	if !enable {
		short = "Stop using a supplied reserve as collateral"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reserveID, err := reserve.parse()
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.SetCollateralRequest{Reserve: reserveID, Sender: txSigner.Address(), Enable: enable}
			return s.runOperation(cmd, "collateral_"+use, reserveID.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.SetCollateral(ctx, req)
			})
		},
	}
	reserve.register(cmd, "reserve", "Reserve id (or <spoke>/<reserve>)")
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newSetPositionManagerCommand(use string, approve bool) *cobra.Command {
	var chainArg, spokeArg, managerArg string
	var flags execFlags
	short := "Allow an address to manage your position on a spoke"
	if !approve {
		short = "Revoke a position manager on a spoke"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spoke, err := id.ParseSpoke(chainArg, spokeArg)
			if err != nil {
				return err
			}
			manager, err := id.ParseAddress(managerArg, "--manager")
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.SetPositionManagerRequest{Spoke: spoke, Manager: manager, Sender: txSigner.Address(), Approve: approve}
			return s.runOperation(cmd, "position_manager_"+use, spoke.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.SetPositionManager(ctx, req)
			})
		},
	}
	registerSpokeFlags(cmd, &chainArg, &spokeArg)
	cmd.Flags().StringVar(&managerArg, "manager", "", "Position manager address")
	_ = cmd.MarkFlagRequired("manager")
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newRenouncePositionManagerCommand() *cobra.Command {
	var chainArg, spokeArg, userArg string
	var flags execFlags
	cmd := &cobra.Command{
		Use:   "renounce",
		Short: "Stop managing another user's position (signer is the manager)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spoke, err := id.ParseSpoke(chainArg, spokeArg)
			if err != nil {
				return err
			}
			user, err := id.ParseAddress(userArg, "--user")
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			req := plan.RenouncePositionManagerRequest{Spoke: spoke, User: user, Sender: txSigner.Address()}
			return s.runOperation(cmd, "position_manager_renounce", spoke.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return orch.RenouncePositionManager(ctx, req)
			})
		},
	}
	registerSpokeFlags(cmd, &chainArg, &spokeArg)
	cmd.Flags().StringVar(&userArg, "user", "", "Address of the managed user")
	_ = cmd.MarkFlagRequired("user")
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newPositionUpdateCommand(use, short string, method func(*execution.Orchestrator) func(context.Context, plan.UpdateUserPositionRequest) (common.Hash, error)) *cobra.Command {
	var chainArg, spokeArg, userArg string
	var flags execFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spoke, err := id.ParseSpoke(chainArg, spokeArg)
			if err != nil {
				return err
			}
			txSigner, err := signerFor(flags)
			if err != nil {
				return err
			}
			user := txSigner.Address()
			if userArg != "" {
				if user, err = id.ParseAddress(userArg, "--user"); err != nil {
					return err
				}
			}
			req := plan.UpdateUserPositionRequest{Spoke: spoke, User: user, Sender: txSigner.Address()}
			return s.runOperation(cmd, "position_"+use, spoke.ChainID, flags, txSigner, func(ctx context.Context, orch *execution.Orchestrator) (common.Hash, error) {
				return method(orch)(ctx, req)
			})
		},
	}
	registerSpokeFlags(cmd, &chainArg, &spokeArg)
	cmd.Flags().StringVar(&userArg, "user", "", "User whose position is refreshed (defaults to signer)")
	flags.register(cmd)
	return cmd
}

func registerSpokeFlags(cmd *cobra.Command, chainArg, spokeArg *string) {
	cmd.Flags().StringVar(chainArg, "chain", "", "Chain identifier (slug, chain id or CAIP-2)")
	cmd.Flags().StringVar(spokeArg, "spoke", "", "Spoke contract address")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("spoke")
}
