package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	"github.com/ggonzalez94/spoke-cli/internal/config"
	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/execution"
	"github.com/ggonzalez94/spoke-cli/internal/execution/wallet"
	"github.com/ggonzalez94/spoke-cli/internal/httpx"
	"github.com/ggonzalez94/spoke-cli/internal/logger"
	"github.com/ggonzalez94/spoke-cli/internal/model"
	"github.com/ggonzalez94/spoke-cli/internal/out"
	"github.com/ggonzalez94/spoke-cli/internal/policy"
	"github.com/ggonzalez94/spoke-cli/internal/providers/aave"
	"github.com/ggonzalez94/spoke-cli/internal/schema"
	"github.com/ggonzalez94/spoke-cli/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  os.Stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	root     *cobra.Command
	log      zerolog.Logger

	cache        *cache.Store
	service      *aave.Client
	actionStore  *execution.Store
	handler      *wallet.Handler
	orchestrator *execution.Orchestrator

	lastCommand  string
	lastWarnings []string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings)
	}
	state.close()
	return clierr.ExitCode(err)
}

// close waits for background cache invalidation before releasing resources,
// so a later invocation never reads a superseded entry.
func (s *runtimeState) close() {
	if s.orchestrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.InvalidationTimeout)
		if err := s.orchestrator.Flush(ctx); err != nil {
			s.log.Warn().Err(err).Msg("cache invalidation did not finish before exit")
		}
		cancel()
	}
	if s.handler != nil {
		s.handler.Close()
	}
	if s.actionStore != nil {
		_ = s.actionStore.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Execute and inspect hub-and-spoke lending positions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			logger.Initialize(settings.LogLevel, s.runner.stderr, settings.LogJSON)
			s.log = logger.GetForComponent("app")

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			return policy.CheckCommandAllowed(settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Strict, "strict", false, "Fail instead of serving stale cached reads")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Service request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per service request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&s.flags.LogJSON, "log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringVar(&s.flags.Endpoint, "endpoint", "", "Service GraphQL endpoint")

	s.addLendCommands(cmd)
	s.addPositionCommands(cmd)
	s.addReadCommands(cmd)
	cmd.AddCommand(s.newActionsCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass())
		},
	}
}

// ensureService builds the GraphQL client and, unless disabled, the query
// cache it reads through.
func (s *runtimeState) ensureService() (*aave.Client, error) {
	if s.service != nil {
		return s.service, nil
	}
	opts := []aave.Option{aave.WithAPIKey(s.settings.ServiceAPIKey)}
	if s.settings.ServiceEndpoint != "" {
		opts = append(opts, aave.WithEndpoint(s.settings.ServiceEndpoint))
	}
	if s.settings.CacheEnabled {
		if s.cache == nil {
			store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
			}
			if err := store.Prune(s.settings.MaxStale); err != nil {
				s.log.Debug().Err(err).Msg("cache prune failed")
			}
			s.cache = store
		}
		maxStale := s.settings.MaxStale
		if s.settings.NoStale || s.settings.Strict {
			maxStale = 0
		}
		opts = append(opts, aave.WithCache(s.cache, s.settings.CacheTTL, maxStale))
	}
	s.service = aave.New(httpx.New(s.settings.Timeout, s.settings.Retries), opts...)
	return s.service, nil
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action store", err)
	}
	s.actionStore = store
	return nil
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Service:   s.serviceEndpoint(),
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.Kind(err)
	message := err.Error()
	txHash := ""
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		txHash = cErr.TxHash
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    int(code),
			Type:    code.String(),
			Message: message,
			TxHash:  txHash,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Service:   s.serviceEndpoint(),
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) serviceEndpoint() string {
	if s.service == nil {
		return ""
	}
	return s.service.Endpoint()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
