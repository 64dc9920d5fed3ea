package execution

import (
	"context"
	"strings"

	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

// HandlerResult is either Signed or *PendingTransaction.
type HandlerResult interface {
	isHandlerResult()
}

// Signed is returned when a handler signs a permit instead of sending an
// approval transaction.
type Signed struct {
	Signature plan.Signature
}

func (Signed) isHandlerResult() {}

// HandlerOptions is passed to every handler invocation.
type HandlerOptions struct {
	// Cancel builds the error a handler returns to abort the operation,
	// for example when the user rejects a wallet prompt.
	Cancel func(message string) error
}

// Handler turns a plan leaf into a submitted transaction or a signature. The
// orchestrator calls it at most once per leaf, sequentially, and never signs
// anything itself.
type Handler interface {
	Handle(ctx context.Context, leaf plan.Leaf, opts HandlerOptions) (HandlerResult, error)
}

type HandlerFunc func(ctx context.Context, leaf plan.Leaf, opts HandlerOptions) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, leaf plan.Leaf, opts HandlerOptions) (HandlerResult, error) {
	return f(ctx, leaf, opts)
}

func defaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		Cancel: func(message string) error {
			message = strings.TrimSpace(message)
			if message == "" {
				message = "operation cancelled"
			}
			return clierr.Cancelled(message)
		},
	}
}
