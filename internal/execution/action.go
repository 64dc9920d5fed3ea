package execution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func NewActionID() string {
	return fmt.Sprintf("act_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func newStepID(actionID string, index int) string {
	return fmt.Sprintf("%s_s%d", strings.TrimPrefix(actionID, "act_"), index+1)
}
