package execution

import (
	"time"

	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

type ActionStatus string

type StepStatus string

type StepType string

const (
	ActionStatusPlanned   ActionStatus = "planned"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSigned    StepStatus = "signed"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApproval    StepType = "approval"
	StepTypePermit      StepType = "permit"
	StepTypePreContract StepType = "pre_contract"
	StepTypeLend        StepType = "lend_call"
)

// ActionStep is one handler invocation.
type ActionStep struct {
	StepID      string               `json:"step_id"`
	Type        StepType             `json:"type"`
	Status      StepStatus           `json:"status"`
	ChainID     int64                `json:"chain_id"`
	Description string               `json:"description,omitempty"`
	Target      string               `json:"target"`
	Data        string               `json:"data,omitempty"`
	Value       string               `json:"value,omitempty"`
	Operations  []plan.OperationType `json:"operations,omitempty"`
	TxHash      string               `json:"tx_hash,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
}

// Action is the persisted record of one orchestrated operation.
type Action struct {
	ActionID    string         `json:"action_id"`
	IntentType  string         `json:"intent_type"`
	Status      ActionStatus   `json:"status"`
	ChainID     int64          `json:"chain_id"`
	Spoke       string         `json:"spoke,omitempty"`
	Reserve     string         `json:"reserve,omitempty"`
	FromAddress string         `json:"from_address,omitempty"`
	InputAmount string         `json:"input_amount,omitempty"`
	PlanType    plan.Typename  `json:"plan_type,omitempty"`
	TxHash      string         `json:"tx_hash,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Steps       []ActionStep   `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewAction(actionID, intentType string, chainID int64) Action {
	now := time.Now().UTC().Format(time.RFC3339)
	return Action{
		ActionID:   actionID,
		IntentType: intentType,
		Status:     ActionStatusPlanned,
		ChainID:    chainID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Steps:      []ActionStep{},
	}
}

func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// LastStep returns the most recently appended step, or nil.
func (a *Action) LastStep() *ActionStep {
	if len(a.Steps) == 0 {
		return nil
	}
	return &a.Steps[len(a.Steps)-1]
}
