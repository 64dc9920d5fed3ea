package execution

import (
	"context"
	"path/filepath"
	"testing"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestStore(t)

	action := NewAction(NewActionID(), "lend_supply", 1)
	action.Steps = append(action.Steps, ActionStep{
		StepID:     newStepID(action.ActionID, 0),
		Type:       StepTypeApproval,
		Status:     StepStatusPending,
		ChainID:    1,
		Target:     "0x0000000000000000000000000000000000000001",
		Operations: []plan.OperationType{plan.OperationApproval},
	})
	if err := store.Save(context.Background(), action); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(action.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IntentType != "lend_supply" || len(got.Steps) != 1 {
		t.Fatalf("unexpected action: %+v", got)
	}

	got.Status = ActionStatusCompleted
	got.TxHash = "0xABCDEF"
	if err := store.Save(context.Background(), got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	completed, err := store.List(string(ActionStatusCompleted), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one completed action, got %d", len(completed))
	}
	byHash, err := store.GetByTxHash("0xabcdef")
	if err != nil {
		t.Fatalf("GetByTxHash failed: %v", err)
	}
	if byHash.ActionID != action.ActionID {
		t.Fatalf("unexpected action for tx hash: %s", byHash.ActionID)
	}
}

func TestStoreGetMissingAction(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("missing")
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing action, got %v", err)
	}
}
