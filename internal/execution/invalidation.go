package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

// Invalidator refreshes cached reads affected by a mutation. It is called
// concurrently, once per affected surface.
type Invalidator interface {
	RefreshQueryWhere(ctx context.Context, query cache.Query, match cache.Predicate) error
}

type invalidation struct {
	query cache.Query
	match cache.Predicate
}

// affected describes what a confirmed operation touched.
type affected struct {
	users    []common.Address
	spokes   []plan.SpokeID
	reserves []plan.ReserveID
}

var (
	supplySurfaces = []cache.Query{
		cache.QueryUserPositions, cache.QueryUserSummary, cache.QueryReserve, cache.QuerySpoke,
		cache.QueryHub, cache.QueryUserSupplies, cache.QueryUserBalances,
	}
	borrowSurfaces = []cache.Query{
		cache.QueryUserPositions, cache.QueryUserSummary, cache.QueryReserve, cache.QuerySpoke,
		cache.QueryHub, cache.QueryUserBorrows, cache.QueryUserBalances,
	}
	liquidateSurfaces = []cache.Query{
		cache.QueryUserPositions, cache.QueryUserSummary, cache.QueryReserve, cache.QuerySpoke,
		cache.QueryHub, cache.QueryUserSupplies, cache.QueryUserBorrows, cache.QueryUserBalances,
	}
	collateralSurfaces = []cache.Query{
		cache.QueryUserPositions, cache.QueryUserSummary, cache.QueryReserve, cache.QueryUserSupplies,
	}
	positionSurfaces = []cache.Query{
		cache.QueryUserPositions, cache.QueryUserSummary,
	}
)

func (a affected) invalidations(surfaces []cache.Query) []invalidation {
	out := make([]invalidation, 0, len(surfaces))
	for _, q := range surfaces {
		var match cache.Predicate
		switch q {
		case cache.QueryUserPositions:
			match = a.matchUserOnSpoke
		case cache.QueryUserSummary, cache.QueryUserSupplies, cache.QueryUserBorrows, cache.QueryUserBalances:
			match = a.matchUserOnChain
		case cache.QueryReserve:
			match = a.matchReserve
		case cache.QuerySpoke:
			match = a.matchSpoke
		case cache.QueryHub:
			match = a.matchHubListingSpoke
		default:
			continue
		}
		out = append(out, invalidation{query: q, match: match})
	}
	return out
}

func (a affected) hasUser(vars cache.Variables) bool {
	user, ok := vars.Address("user")
	if !ok {
		return false
	}
	for _, u := range a.users {
		if u == user {
			return true
		}
	}
	return false
}

func (a affected) hasChain(vars cache.Variables) bool {
	chainID, ok := vars.Int64("chainId")
	if !ok {
		return false
	}
	for _, s := range a.spokes {
		if s.ChainID == chainID {
			return true
		}
	}
	return false
}

func (a affected) hasSpoke(vars cache.Variables) bool {
	chainID, ok := vars.Int64("chainId")
	if !ok {
		return false
	}
	spoke, ok := vars.Address("spoke")
	if !ok {
		return false
	}
	for _, s := range a.spokes {
		if s.ChainID == chainID && s.Spoke == spoke {
			return true
		}
	}
	return false
}

// matchUserOnSpoke matches position queries for an affected user. A query not
// scoped to a spoke matches on chain alone.
func (a affected) matchUserOnSpoke(vars cache.Variables, _ json.RawMessage) bool {
	if !a.hasUser(vars) {
		return false
	}
	if _, scoped := vars.Address("spoke"); scoped {
		return a.hasSpoke(vars)
	}
	return a.hasChain(vars)
}

func (a affected) matchUserOnChain(vars cache.Variables, _ json.RawMessage) bool {
	return a.hasUser(vars) && a.hasChain(vars)
}

func (a affected) matchReserve(vars cache.Variables, _ json.RawMessage) bool {
	chainID, ok := vars.Int64("chainId")
	if !ok {
		return false
	}
	spoke, ok := vars.Address("spoke")
	if !ok {
		return false
	}
	candidate := plan.ReserveID{ChainID: chainID, Spoke: spoke, ReserveID: vars.String("reserveId")}
	for _, r := range a.reserves {
		if r.Equal(candidate) {
			return true
		}
	}
	return false
}

func (a affected) matchSpoke(vars cache.Variables, _ json.RawMessage) bool {
	return a.hasSpoke(vars)
}

// matchHubListingSpoke matches a cached hub whose data lists one of the
// affected spokes. When the cached data carries no addresses at all, the
// chain alone decides.
func (a affected) matchHubListingSpoke(vars cache.Variables, data json.RawMessage) bool {
	if !a.hasChain(vars) {
		return false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return true
	}
	addresses := map[common.Address]struct{}{}
	collectAddresses(decoded, addresses)
	if len(addresses) == 0 {
		return true
	}
	for _, s := range a.spokes {
		if _, ok := addresses[s.Spoke]; ok {
			return true
		}
	}
	return false
}

func collectAddresses(v any, into map[common.Address]struct{}) {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "0x") && common.IsHexAddress(t) {
			into[common.HexToAddress(t)] = struct{}{}
		}
	case []any:
		for _, item := range t {
			collectAddresses(item, into)
		}
	case map[string]any:
		for _, item := range t {
			collectAddresses(item, into)
		}
	}
}

// fanOut refreshes every surface concurrently in the background. Failures are
// logged and never reach the caller; one failure does not stop the others.
func (o *Orchestrator) fanOut(op string, jobs []invalidation) {
	if o.invalidator == nil || len(jobs) == 0 {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.invalidationTimeout)
		defer cancel()

		var g errgroup.Group
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				if err := o.refresh(ctx, job); err != nil {
					o.log.Warn().Err(err).Str("op", op).Str("query", string(job.query)).Msg("cache invalidation failed")
				}
				return nil
			})
		}
		_ = g.Wait()
		o.log.Debug().Str("op", op).Int("surfaces", len(jobs)).Msg("cache invalidation finished")
	}()
}

func (o *Orchestrator) refresh(ctx context.Context, job invalidation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalidation panicked: %v", r)
		}
	}()
	return o.invalidator.RefreshQueryWhere(ctx, job.query, job.match)
}

// Flush blocks until every background invalidation has finished or ctx is done.
func (o *Orchestrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
