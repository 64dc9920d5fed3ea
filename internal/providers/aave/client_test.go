package aave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/spoke-cli/internal/cache"
	clierr "github.com/ggonzalez94/spoke-cli/internal/errors"
	"github.com/ggonzalez94/spoke-cli/internal/httpx"
	"github.com/ggonzalez94/spoke-cli/internal/plan"
)

const (
	testUser  = "0x00000000000000000000000000000000000000a1"
	testSpoke = "0x00000000000000000000000000000000000000b2"
)

type graphQLBody struct {
	Query         string                     `json:"query"`
	OperationName string                     `json:"operationName"`
	Variables     map[string]json.RawMessage `json:"variables"`
}

func newTestServer(t *testing.T, handle func(body graphQLBody, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body graphQLBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handle(body, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testReserve() plan.ReserveID {
	return plan.ReserveID{ChainID: 1, Spoke: common.HexToAddress(testSpoke), ReserveID: "7"}
}

func TestSupplyDecodesTransactionRequest(t *testing.T) {
	var gotKey string
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(apiKeyHeader)
		if body.OperationName != "Supply" {
			t.Errorf("unexpected operation %q", body.OperationName)
		}
		if !strings.Contains(body.Query, "supply(request: $request)") || !strings.Contains(body.Query, "fragment ExecutionPlan") {
			t.Errorf("unexpected query %s", body.Query)
		}
		var req struct {
			Reserve struct {
				ReserveID string `json:"reserveId"`
			} `json:"reserve"`
			Amount map[string]map[string]any `json:"amount"`
		}
		if err := json.Unmarshal(body.Variables["request"], &req); err != nil {
			t.Errorf("decode variables: %v", err)
		}
		if req.Reserve.ReserveID != "7" || req.Amount["erc20"]["value"] != "1.5" {
			t.Errorf("unexpected request variables %s", body.Variables["request"])
		}
		_, _ = w.Write([]byte(`{"data":{"value":{
			"__typename":"TransactionRequest",
			"to":"` + testSpoke + `","from":"` + testUser + `",
			"data":"0x617ba037","value":"0","chainId":1,
			"operations":["SPOKE_SUPPLY"]}}}`))
	})

	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL), WithAPIKey("secret"))
	p, err := client.Supply(context.Background(), plan.SupplyRequest{
		Reserve: testReserve(),
		Amount:  plan.ExactAmount(plan.AmountErc20, decimal.RequireFromString("1.5")),
		Sender:  common.HexToAddress(testUser),
	})
	if err != nil {
		t.Fatalf("Supply failed: %v", err)
	}
	tx, ok := p.(*plan.TransactionRequest)
	if !ok {
		t.Fatalf("expected transaction request, got %T", p)
	}
	if tx.To != common.HexToAddress(testSpoke) || tx.ChainID != 1 || len(tx.Operations) != 1 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if gotKey != "secret" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
}

func TestRepayMaxSendsSentinel(t *testing.T) {
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(string(body.Variables["request"]), `"max":true`) {
			t.Errorf("expected max sentinel, got %s", body.Variables["request"])
		}
		_, _ = w.Write([]byte(`{"data":{"value":{"__typename":"InsufficientBalanceError","required":"10","available":"2.5"}}}`))
	})

	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL))
	p, err := client.Repay(context.Background(), plan.RepayRequest{
		Reserve: testReserve(),
		Amount:  plan.MaxAmount(plan.AmountErc20),
		Sender:  common.HexToAddress(testUser),
	})
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	insufficient, ok := p.(*plan.InsufficientBalanceError)
	if !ok {
		t.Fatalf("expected insufficient balance, got %T", p)
	}
	if !insufficient.Available.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected available %s", insufficient.Available)
	}
}

func TestUnknownPlanVariantIsUnexpected(t *testing.T) {
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"value":{"__typename":"BridgeRequired"}}}`))
	})

	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL))
	_, err := client.Borrow(context.Background(), plan.BorrowRequest{Reserve: testReserve()})
	if !clierr.Is(err, clierr.CodeUnexpected) {
		t.Fatalf("expected unexpected error, got %v", err)
	}
}

func TestHasProcessedKnownTransaction(t *testing.T) {
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		if body.OperationName != "HasProcessedKnownTransaction" {
			t.Errorf("unexpected operation %q", body.OperationName)
		}
		_, _ = w.Write([]byte(`{"data":{"value":true}}`))
	})

	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL))
	ok, err := client.HasProcessedKnownTransaction(context.Background(), plan.TransactionReceiptRequest{
		TxHash:     common.HexToHash("0x01"),
		ChainID:    1,
		Operations: []plan.OperationType{plan.OperationSupply},
	})
	if err != nil {
		t.Fatalf("HasProcessedKnownTransaction failed: %v", err)
	}
	if !ok {
		t.Fatal("expected processed")
	}
}

func openTestCache(t *testing.T) *cache.Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := cache.Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestQueryServesCacheUntilInvalidated(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":{"value":{"totalPositions":1}}}`))
	})
	store := openTestCache(t)
	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL), WithCache(store, time.Minute, time.Minute))
	vars := cache.Variables{"user": testUser, "chainId": 1}

	for i := 0; i < 2; i++ {
		res, err := client.Query(context.Background(), cache.QueryUserSummary, vars)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if string(res.Value) != `{"totalPositions":1}` {
			t.Fatalf("unexpected value %s", res.Value)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one request, got %d", got)
	}

	err := store.RefreshQueryWhere(context.Background(), cache.QueryUserSummary, func(v cache.Variables, _ json.RawMessage) bool {
		user, _ := v.Address("user")
		return user == common.HexToAddress(testUser)
	})
	if err != nil {
		t.Fatalf("RefreshQueryWhere failed: %v", err)
	}
	res, err := client.Query(context.Background(), cache.QueryUserSummary, vars)
	if err != nil {
		t.Fatalf("Query after invalidation failed: %v", err)
	}
	if res.FromCache {
		t.Fatal("invalidated entry must be refetched")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected refetch, got %d requests", got)
	}
}

func TestQueryFallsBackToStaleEntry(t *testing.T) {
	var fail atomic.Bool
	srv := newTestServer(t, func(body graphQLBody, w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"value":{"address":"` + testSpoke + `"}}}`))
	})
	store := openTestCache(t)
	client := New(httpx.New(2*time.Second, 0), WithEndpoint(srv.URL), WithCache(store, time.Second, time.Minute))
	vars := cache.Variables{"chainId": 1, "spoke": testSpoke}

	if _, err := client.Query(context.Background(), cache.QuerySpoke, vars); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	fail.Store(true)
	time.Sleep(2100 * time.Millisecond)

	res, err := client.Query(context.Background(), cache.QuerySpoke, vars)
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if !res.FromCache || !res.Stale {
		t.Fatalf("expected stale cached result, got %+v", res)
	}
}

func TestQueryRequiresVariables(t *testing.T) {
	client := New(httpx.New(time.Second, 0), WithEndpoint("http://127.0.0.1:1"))
	_, err := client.Query(context.Background(), cache.QueryReserve, cache.Variables{"chainId": 1})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
