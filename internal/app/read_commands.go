package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	"github.com/ggonzalez94/spoke-cli/internal/id"
	"github.com/ggonzalez94/spoke-cli/internal/model"
)

type readArgs struct {
	chain   string
	user    string
	spoke   string
	reserve string
	hub     string
}

// readSpec describes how a read command maps its flags onto query variables.
type readSpec struct {
	use     string
	short   string
	query   cache.Query
	user    bool
	spoke   flagMode
	reserve bool
	hub     bool
}

type flagMode int

const (
	flagNone flagMode = iota
	flagOptional
	flagRequired
)

var readSpecs = []readSpec{
	{use: "positions", short: "List a user's positions", query: cache.QueryUserPositions, user: true, spoke: flagOptional},
	{use: "summary", short: "Aggregate a user's positions on a chain", query: cache.QueryUserSummary, user: true},
	{use: "reserve", short: "Show one spoke reserve", query: cache.QueryReserve, spoke: flagRequired, reserve: true},
	{use: "spoke", short: "Show a spoke", query: cache.QuerySpoke, spoke: flagRequired},
	{use: "hub", short: "Show the liquidity hub and its spokes", query: cache.QueryHub, hub: true},
	{use: "supplies", short: "List a user's supplies", query: cache.QueryUserSupplies, user: true},
	{use: "borrows", short: "List a user's borrows", query: cache.QueryUserBorrows, user: true},
	{use: "balances", short: "List a user's wallet balances", query: cache.QueryUserBalances, user: true},
}

func (s *runtimeState) addReadCommands(root *cobra.Command) {
	for _, spec := range readSpecs {
		root.AddCommand(s.newReadCommand(spec))
	}
}

func (s *runtimeState) newReadCommand(spec readSpec) *cobra.Command {
	var args readArgs
	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vars, err := spec.variables(args)
			if err != nil {
				return err
			}
			return s.runQuery(cmd, spec.query, vars)
		},
	}
	cmd.Flags().StringVar(&args.chain, "chain", "", "Chain identifier (slug, chain id or CAIP-2)")
	_ = cmd.MarkFlagRequired("chain")
	if spec.user {
		cmd.Flags().StringVar(&args.user, "user", "", "User address")
		_ = cmd.MarkFlagRequired("user")
	}
	switch spec.spoke {
	case flagOptional:
		cmd.Flags().StringVar(&args.spoke, "spoke", "", "Restrict to one spoke")
	case flagRequired:
		cmd.Flags().StringVar(&args.spoke, "spoke", "", "Spoke contract address")
	}
	if spec.reserve {
		cmd.Flags().StringVar(&args.reserve, "reserve", "", "Reserve id (or <spoke>/<reserve>)")
		_ = cmd.MarkFlagRequired("reserve")
	}
	if spec.hub {
		cmd.Flags().StringVar(&args.hub, "hub", "", "Hub contract address (defaults to the chain's hub)")
	}
	return cmd
}

func (spec readSpec) variables(args readArgs) (cache.Variables, error) {
	chain, err := id.ParseChain(args.chain)
	if err != nil {
		return nil, err
	}
	vars := cache.Variables{"chainId": chain.EVMChainID}
	if spec.user {
		user, err := id.ParseAddress(args.user, "--user")
		if err != nil {
			return nil, err
		}
		vars["user"] = user.Hex()
	}
	if spec.reserve {
		reserve, err := id.ParseReserve(args.chain, args.spoke, args.reserve)
		if err != nil {
			return nil, err
		}
		vars["spoke"] = reserve.Spoke.Hex()
		vars["reserveId"] = reserve.ReserveID
		return vars, nil
	}
	if spec.spoke == flagRequired || (spec.spoke == flagOptional && strings.TrimSpace(args.spoke) != "") {
		spoke, err := id.ParseAddress(args.spoke, "--spoke")
		if err != nil {
			return nil, err
		}
		vars["spoke"] = spoke.Hex()
	}
	if spec.hub && strings.TrimSpace(args.hub) != "" {
		hub, err := id.ParseAddress(args.hub, "--hub")
		if err != nil {
			return nil, err
		}
		vars["hub"] = hub.Hex()
	}
	return vars, nil
}

func (s *runtimeState) runQuery(cmd *cobra.Command, query cache.Query, vars cache.Variables) error {
	service, err := s.ensureService()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	res, err := service.Query(ctx, query, vars)
	if err != nil {
		return err
	}

	status := cacheMetaBypass()
	var warnings []string
	switch {
	case res.FromCache:
		status = model.CacheStatus{Status: "hit", AgeMS: res.Age.Milliseconds(), Stale: res.Stale}
		if res.Stale {
			warnings = append(warnings, fmt.Sprintf("service unavailable; serving cached %s from %s ago", query, res.Age.Truncate(time.Millisecond)))
		}
	case s.cache != nil:
		status = model.CacheStatus{Status: "write"}
	}
	data := model.QueryResult{Query: string(query), Variables: vars, Value: res.Value}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, status)
}
