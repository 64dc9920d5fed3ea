package aave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/httpx"
)

type readQuery struct {
	operation string
	document  string
	required  []string
}

var readQueries = map[cache.Query]readQuery{
	cache.QueryUserPositions: {
		operation: "UserPositions",
		document: `query UserPositions($request: UserPositionsRequest!) {
  value: userPositions(request: $request) {
    id spoke { address chain { chainId } } healthFactor totalCollateral { usd } totalDebt { usd }
  }
}`,
		required: []string{"user", "chainId"},
	},
	cache.QueryUserSummary: {
		operation: "UserSummary",
		document: `query UserSummary($request: UserSummaryRequest!) {
  value: userSummary(request: $request) {
    totalPositions netBalance { usd } totalCollateral { usd } totalSupplied { usd } totalDebt { usd } lowestHealthFactor
  }
}`,
		required: []string{"user", "chainId"},
	},
	cache.QueryReserve: {
		operation: "Reserve",
		document: `query Reserve($request: ReserveRequest!) {
  value: reserve(request: $request) {
    id spoke { address } asset { underlying { address symbol decimals } }
    summary { supplied { amount } borrowed { amount } supplyApy borrowApy }
    canSupply canBorrow canUseAsCollateral
  }
}`,
		required: []string{"chainId", "spoke", "reserveId"},
	},
	cache.QuerySpoke: {
		operation: "Spoke",
		document: `query Spoke($request: SpokeRequest!) {
  value: spoke(request: $request) { address name chain { chainId } }
}`,
		required: []string{"chainId", "spoke"},
	},
	cache.QueryHub: {
		operation: "Hub",
		document: `query Hub($request: HubRequest!) {
  value: hub(request: $request) { address name chain { chainId } spokes { address name } }
}`,
		required: []string{"chainId"},
	},
	cache.QueryUserSupplies: {
		operation: "UserSupplies",
		document: `query UserSupplies($request: UserSuppliesRequest!) {
  value: userSupplies(request: $request) {
    reserve { id spoke { address } asset { underlying { symbol } } } principal { amount } withdrawable { amount } isCollateral
  }
}`,
		required: []string{"user", "chainId"},
	},
	cache.QueryUserBorrows: {
		operation: "UserBorrows",
		document: `query UserBorrows($request: UserBorrowsRequest!) {
  value: userBorrows(request: $request) {
    reserve { id spoke { address } asset { underlying { symbol } } } principal { amount } debt { amount }
  }
}`,
		required: []string{"user", "chainId"},
	},
	cache.QueryUserBalances: {
		operation: "UserBalances",
		document: `query UserBalances($request: UserBalancesRequest!) {
  value: userBalances(request: $request) {
    token { address symbol decimals } amount { amount } exchange { usd }
  }
}`,
		required: []string{"user", "chainId"},
	},
}

// ReadResult is a read query value plus where it came from.
type ReadResult struct {
	Value     json.RawMessage
	FromCache bool
	Stale     bool
	Age       time.Duration
}

// Query runs a read query. Fresh cache entries are served without a request;
// invalidated entries are always refetched. When the service fails, a stale
// entry within the max-stale window is returned instead.
func (c *Client) Query(ctx context.Context, query cache.Query, vars cache.Variables) (ReadResult, error) {
	spec, ok := readQueries[query]
	if !ok {
		return ReadResult{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported query %q", query))
	}
	for _, key := range spec.required {
		if _, present := vars[key]; !present {
			return ReadResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s requires %s", query, key))
		}
	}

	var cached cache.Result
	if c.cache != nil {
		res, err := c.cache.Get(query, vars, c.maxStale)
		if err != nil {
			c.log.Warn().Err(err).Str("query", string(query)).Msg("cache read failed")
		} else {
			cached = res
		}
		if cached.Usable() {
			return ReadResult{Value: cached.Value, FromCache: true, Age: cached.Age}, nil
		}
	}

	data, err := httpx.GraphQL(ctx, c.http, c.endpoint, httpx.GraphQLRequest{
		Query:         spec.document,
		OperationName: spec.operation,
		Variables:     map[string]any{"request": map[string]any(vars)},
	}, c.headers())
	if err != nil {
		if cached.Fallback() && clierr.Is(err, clierr.CodeUnavailable) {
			c.log.Warn().Err(err).Str("query", string(query)).Dur("age", cached.Age).Msg("serving stale cache entry")
			return ReadResult{Value: cached.Value, FromCache: true, Stale: true, Age: cached.Age}, nil
		}
		return ReadResult{}, err
	}
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return ReadResult{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s response", query), err)
	}
	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(query, vars, out.Value, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("query", string(query)).Msg("cache write failed")
		}
	}
	return ReadResult{Value: out.Value}, nil
}
