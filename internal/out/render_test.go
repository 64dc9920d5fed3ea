package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/spoke-cli/internal/config"
	"github.com/ggonzalez94/spoke-cli/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["a"].(float64) != 1 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["b"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderSelectDottedPath(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: model.QueryResult{
			Query: "userSummary",
			Value: json.RawMessage(`{"healthFactor":"1.8","totalDebt":{"usd":"10"}}`),
		},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"value.totalDebt.usd", "query"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if out["value.totalDebt.usd"] != "10" || out["query"] != "userSummary" {
		t.Fatalf("unexpected projection: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    model.OperationResult{Operation: "supply", TxHash: "0xabc", Status: "completed"},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "operation=supply") || !strings.Contains(buf.String(), "tx_hash=0xabc") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainErrorWithWarnings(t *testing.T) {
	env := model.Envelope{
		Success:  false,
		Error:    &model.ErrorBody{Code: 24, Type: "transaction_failed", Message: "transaction reverted", TxHash: "0xdead"},
		Warnings: []string{"action act_1 recorded as failed"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected error and warning lines, got %q", buf.String())
	}
	if lines[0] != "error 24 (transaction_failed): transaction reverted tx_hash=0xdead" {
		t.Fatalf("unexpected error line: %q", lines[0])
	}
	if lines[1] != "warning: action act_1 recorded as failed" {
		t.Fatalf("unexpected warning line: %q", lines[1])
	}
}
