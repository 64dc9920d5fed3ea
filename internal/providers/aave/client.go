// Package aave is the GraphQL client for the hub-and-spoke lending service.
// Mutations return execution plans; read queries go through the local cache.
package aave

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/httpx"
	"github.com/ggonzalez94/spoke-cli/internal/logger"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

const (
	DefaultEndpoint = "https://api.v4.aave.com/graphql"
	apiKeyHeader    = "X-Api-Key"
)

type Client struct {
	http     *httpx.Client
	endpoint string
	apiKey   string
	cache    *cache.Store
	ttl      time.Duration
	maxStale time.Duration
	log      zerolog.Logger
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if strings.TrimSpace(endpoint) != "" {
			c.endpoint = strings.TrimSpace(endpoint)
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithCache serves reads from store. Entries younger than ttl are fresh;
// entries up to ttl+maxStale old are used only when the service is down.
func WithCache(store *cache.Store, ttl, maxStale time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.ttl = ttl
		c.maxStale = maxStale
	}
}

func New(httpClient *httpx.Client, opts ...Option) *Client {
	c := &Client{
		http:     httpClient,
		endpoint: DefaultEndpoint,
		ttl:      30 * time.Second,
		log:      logger.GetForComponent("aave"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) Supply(ctx context.Context, req plan.SupplyRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "supply", "SupplyRequest", req)
}

func (c *Client) Borrow(ctx context.Context, req plan.BorrowRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "borrow", "BorrowRequest", req)
}

func (c *Client) Repay(ctx context.Context, req plan.RepayRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "repay", "RepayRequest", req)
}

func (c *Client) Withdraw(ctx context.Context, req plan.WithdrawRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "withdraw", "WithdrawRequest", req)
}

func (c *Client) Liquidate(ctx context.Context, req plan.LiquidateRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "liquidatePosition", "LiquidatePositionRequest", req)
}

func (c *Client) SetCollateral(ctx context.Context, req plan.SetCollateralRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "setUserSuppliesAsCollateral", "SetUserSuppliesAsCollateralRequest", req)
}

func (c *Client) SetPositionManager(ctx context.Context, req plan.SetPositionManagerRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "setUserPositionManager", "SetUserPositionManagerRequest", req)
}

func (c *Client) RenouncePositionManager(ctx context.Context, req plan.RenouncePositionManagerRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "renounceSpokeUserPositionManager", "RenounceSpokeUserPositionManagerRequest", req)
}

func (c *Client) UpdateUserRiskPremium(ctx context.Context, req plan.UpdateUserPositionRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "updateUserRiskPremium", "UpdateUserRiskPremiumRequest", req)
}

func (c *Client) UpdateUserDynamicConfig(ctx context.Context, req plan.UpdateUserPositionRequest) (plan.ExecutionPlan, error) {
	return c.executionPlan(ctx, "updateUserDynamicConfig", "UpdateUserDynamicConfigRequest", req)
}

const hasProcessedQuery = `query HasProcessedKnownTransaction($request: HasProcessedKnownTransactionRequest!) {
  value: hasProcessedKnownTransaction(request: $request)
}`

func (c *Client) HasProcessedKnownTransaction(ctx context.Context, req plan.TransactionReceiptRequest) (bool, error) {
	data, err := httpx.GraphQL(ctx, c.http, c.endpoint, httpx.GraphQLRequest{
		Query:         hasProcessedQuery,
		OperationName: "HasProcessedKnownTransaction",
		Variables:     map[string]any{"request": req},
	}, c.headers())
	if err != nil {
		return false, err
	}
	var out struct {
		Value bool `json:"value"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, clierr.Wrap(clierr.CodeUnavailable, "decode hasProcessedKnownTransaction", err)
	}
	return out.Value, nil
}

func (c *Client) executionPlan(ctx context.Context, field, requestType string, req any) (plan.ExecutionPlan, error) {
	operation := strings.ToUpper(field[:1]) + field[1:]
	query := fmt.Sprintf("query %s($request: %s!) {\n  value: %s(request: $request) {\n    ...ExecutionPlan\n  }\n}\n%s",
		operation, requestType, field, executionPlanFragment)

	started := time.Now()
	data, err := httpx.GraphQL(ctx, c.http, c.endpoint, httpx.GraphQLRequest{
		Query:         query,
		OperationName: operation,
		Variables:     map[string]any{"request": req},
	}, c.headers())
	if err != nil {
		return nil, err
	}
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s response", field), err)
	}
	if len(out.Value) == 0 || string(out.Value) == "null" {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned no plan", field))
	}
	p, err := plan.DecodeExecutionPlan(out.Value)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("operation", field).Str("plan", string(p.Typename())).Dur("took", time.Since(started)).Msg("received execution plan")
	return p, nil
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{apiKeyHeader: c.apiKey}
}

const executionPlanFragment = `fragment TransactionRequest on TransactionRequest {
  __typename
  to
  from
  data
  value
  chainId
  operations
}
fragment ExecutionPlan on ExecutionPlan {
  __typename
  ... on TransactionRequest { ...TransactionRequest }
  ... on Erc20ApprovalRequired {
    transaction { ...TransactionRequest }
    reason
    requiredAmount
    currentAllowance
    originalTransaction { ...TransactionRequest }
    bySignature
  }
  ... on PreContractActionRequired {
    transaction { ...TransactionRequest }
    reason
    originalTransaction { ...TransactionRequest }
  }
  ... on InsufficientBalanceError {
    required
    available
  }
}`
