package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
)

// CheckCommandAllowed enforces the --enable-commands allowlist. An entry
// allows the exact command path and every subcommand below it, so "position"
// enables "position update-risk-premium".
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		a := normalize(allowed)
		if a == "" {
			continue
		}
		if a == normPath || strings.HasPrefix(normPath, a+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
