package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ggonzalez94/spoke-cli/internal/version"
)

const (
	testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"
	testUser       = "0x00000000000000000000000000000000000000a1"
	testSpoke      = "0x00000000000000000000000000000000000000b2"
)

type testEnvelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    *struct {
		Code    int    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		Command string `json:"command"`
		Cache   struct {
			Status string `json:"status"`
			Stale  bool   `json:"stale"`
		} `json:"cache"`
	} `json:"meta"`
}

// isolate points config, cache and action store at a temp dir.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_CACHE_HOME", dir)
	for _, name := range []string{"SPOKE_PRIVATE_KEY", "SPOKE_PRIVATE_KEY_FILE", "SPOKE_KEYSTORE_PATH", "SPOKE_ENDPOINT", "SPOKE_API_KEY", "SPOKE_NO_CACHE", "SPOKE_OUTPUT"} {
		t.Setenv(name, "")
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	r.stdin = strings.NewReader("")
	code := r.Run(args)
	return code, stdout.String(), stderr.String()
}

func decodeEnvelope(t *testing.T, raw string) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, raw)
	}
	return env
}

func newGraphQLServer(t *testing.T, calls *int32, respond func(operation string) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var body struct {
			OperationName string `json:"operationName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(body.OperationName)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("spoke position update-risk-premium"); got != "position update-risk-premium" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != version.CLIVersion {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestRunnerUnknownCommandIsUsageError(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "bridge")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "summary", "--chain", "base", "--user", testUser, "--enable-commands", "actions", "--results-only")
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr)
	}
	env := decodeEnvelope(t, stderr)
	if env.Success || env.Error == nil || env.Error.Type != "command_blocked" {
		t.Fatalf("unexpected error envelope: %s", stderr)
	}
	if env.Meta.Command != "summary" {
		t.Fatalf("expected command in meta, got %q", env.Meta.Command)
	}
}

func TestRunnerReadServesCacheUntilExpiry(t *testing.T) {
	isolate(t)
	var calls int32
	srv := newGraphQLServer(t, &calls, func(operation string) string {
		if operation != "UserSummary" {
			t.Errorf("unexpected operation %q", operation)
		}
		return `{"data":{"value":{"totalPositions":2,"lowestHealthFactor":"1.8"}}}`
	})

	args := []string{"summary", "--chain", "base", "--user", testUser, "--endpoint", srv.URL}
	code, stdout, stderr := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	first := decodeEnvelope(t, stdout)
	if first.Meta.Cache.Status != "write" {
		t.Fatalf("expected cache write on first read, got %+v", first.Meta.Cache)
	}
	var data struct {
		Query string `json:"query"`
		Value struct {
			LowestHealthFactor string `json:"lowestHealthFactor"`
		} `json:"value"`
	}
	if err := json.Unmarshal(first.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Query != "userSummary" || data.Value.LowestHealthFactor != "1.8" {
		t.Fatalf("unexpected data %s", first.Data)
	}

	code, stdout, stderr = runCLI(t, args...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	second := decodeEnvelope(t, stdout)
	if second.Meta.Cache.Status != "hit" || second.Meta.Cache.Stale {
		t.Fatalf("expected fresh cache hit, got %+v", second.Meta.Cache)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one service call, got %d", got)
	}

	code, stdout, stderr = runCLI(t, append(args, "--no-cache")...)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if env := decodeEnvelope(t, stdout); env.Meta.Cache.Status != "bypass" {
		t.Fatalf("expected cache bypass with --no-cache, got %+v", env.Meta.Cache)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected --no-cache to reach the service, got %d calls", got)
	}
}

func TestRunnerReadRequiresUser(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "positions", "--chain", "base")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerSupplyRejectsBadAmount(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "supply", "--chain", "ethereum", "--spoke", testSpoke, "--reserve", "7", "--amount", "1,5", "--private-key", testPrivateKey, "--yes")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerSupplyRequiresConfirmationOrYes(t *testing.T) {
	isolate(t)
	var calls int32
	srv := newGraphQLServer(t, &calls, func(string) string { return `{"data":{"value":null}}` })
	code, _, stderr := runCLI(t, "supply", "--chain", "ethereum", "--spoke", testSpoke, "--reserve", "7", "--amount", "1", "--private-key", testPrivateKey, "--endpoint", srv.URL)
	if code != 2 {
		t.Fatalf("expected usage exit code 2 without a terminal, got %d stderr=%s", code, stderr)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("did not expect a plan request before confirmation is possible")
	}
}

func TestRunnerSupplyInsufficientBalanceIsRecorded(t *testing.T) {
	isolate(t)
	var calls int32
	srv := newGraphQLServer(t, &calls, func(operation string) string {
		if operation != "Supply" {
			t.Errorf("unexpected operation %q", operation)
		}
		return `{"data":{"value":{"__typename":"InsufficientBalanceError","required":"10","available":"2.5"}}}`
	})

	code, _, stderr := runCLI(t, "supply", "--chain", "ethereum", "--spoke", testSpoke, "--reserve", "7", "--amount", "10", "--private-key", testPrivateKey, "--yes", "--endpoint", srv.URL)
	if code != 20 {
		t.Fatalf("expected validation exit code 20, got %d stderr=%s", code, stderr)
	}
	env := decodeEnvelope(t, stderr)
	if env.Error == nil || env.Error.Type != "validation_error" {
		t.Fatalf("unexpected error envelope: %s", stderr)
	}
	if len(env.Warnings) != 1 || !strings.Contains(env.Warnings[0], "recorded as failed") {
		t.Fatalf("expected recorded action warning, got %v", env.Warnings)
	}

	code, stdout, stderr := runCLI(t, "actions", "list", "--status", "failed", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var actions []map[string]any
	if err := json.Unmarshal([]byte(stdout), &actions); err != nil {
		t.Fatalf("failed to parse actions output: %v output=%s", err, stdout)
	}
	if len(actions) != 1 || actions[0]["intent_type"] != "lend_supply" || actions[0]["error_code"] != "validation_error" {
		t.Fatalf("unexpected recorded actions: %s", stdout)
	}

	actionID, _ := actions[0]["action_id"].(string)
	code, stdout, stderr = runCLI(t, "actions", "status", "--action-id", actionID, "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, actionID) {
		t.Fatalf("expected status of %s, got %s", actionID, stdout)
	}
}

func TestRunnerActionsStatusMissing(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "actions", "status", "--action-id", "act_missing")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerActionsListRejectsUnknownStatus(t *testing.T) {
	isolate(t)
	code, _, stderr := runCLI(t, "actions", "list", "--status", "pending")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr)
	}
}

func TestResolveActionID(t *testing.T) {
	key, byHash, err := resolveActionID("act_123", "")
	if err != nil || key != "act_123" || byHash {
		t.Fatalf("unexpected resolution: key=%s byHash=%v err=%v", key, byHash, err)
	}
	key, byHash, err = resolveActionID("", "0xabc")
	if err != nil || key != "0xabc" || !byHash {
		t.Fatalf("unexpected hash resolution: key=%s byHash=%v err=%v", key, byHash, err)
	}
	if _, _, err := resolveActionID("act_1", "0xabc"); err == nil {
		t.Fatal("expected error when both are set")
	}
	if _, _, err := resolveActionID("", ""); err == nil {
		t.Fatal("expected error when neither is set")
	}
}

func TestRunnerSchemaMarksSigningCommands(t *testing.T) {
	isolate(t)
	code, stdout, stderr := runCLI(t, "schema", "collateral", "enable", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var doc struct {
		Path  string `json:"path"`
		Signs bool   `json:"signs"`
		Flags []struct {
			Name     string `json:"name"`
			Required bool   `json:"required"`
		} `json:"flags"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("failed to parse schema output: %v output=%s", err, stdout)
	}
	if doc.Path != "spoke collateral enable" || !doc.Signs {
		t.Fatalf("unexpected schema: %s", stdout)
	}
	required := map[string]bool{}
	for _, f := range doc.Flags {
		required[f.Name] = f.Required
	}
	if !required["chain"] || !required["reserve"] || required["yes"] {
		t.Fatalf("unexpected required flags: %+v", doc.Flags)
	}

	code, stdout, _ = runCLI(t, "schema", "summary", "--results-only")
	if code != 0 || strings.Contains(stdout, `"signs":true`) {
		t.Fatalf("read commands must not be marked as signing: %s", stdout)
	}
}
