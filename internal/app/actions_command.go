package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/execution"
)

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Inspect recorded operations"}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded operations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			if status != "" && !validActionStatus(status) {
				return clierr.New(clierr.CodeUsage, "--status must be one of planned|running|completed|failed|cancelled")
			}
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			actions, err := s.actionStore.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), actions, nil, cacheMetaBypass())
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum actions to return")

	var actionID, txHash string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show one recorded operation by action id or transaction hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, byHash, err := resolveActionID(actionID, txHash)
			if err != nil {
				return err
			}
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			var action execution.Action
			if byHash {
				action, err = s.actionStore.GetByTxHash(key)
			} else {
				action, err = s.actionStore.Get(key)
			}
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass())
		},
	}
	statusCmd.Flags().StringVar(&actionID, "action-id", "", "Action identifier")
	statusCmd.Flags().StringVar(&txHash, "tx-hash", "", "Final transaction hash")

	root.AddCommand(listCmd)
	root.AddCommand(statusCmd)
	return root
}

// resolveActionID picks the lookup key; exactly one of the two must be set.
func resolveActionID(actionID, txHash string) (string, bool, error) {
	actionID = strings.TrimSpace(actionID)
	txHash = strings.TrimSpace(txHash)
	switch {
	case actionID != "" && txHash != "":
		return "", false, clierr.New(clierr.CodeUsage, "use either --action-id or --tx-hash, not both")
	case actionID != "":
		return actionID, false, nil
	case txHash != "":
		return txHash, true, nil
	default:
		return "", false, clierr.New(clierr.CodeUsage, "--action-id or --tx-hash is required")
	}
}

func validActionStatus(status string) bool {
	switch execution.ActionStatus(status) {
	case execution.ActionStatusPlanned, execution.ActionStatusRunning, execution.ActionStatusCompleted,
		execution.ActionStatusFailed, execution.ActionStatusCancelled:
		return true
	}
	return false
}
