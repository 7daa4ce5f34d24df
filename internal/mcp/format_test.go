package mcp

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

func TestGroupDigits(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{21000, "21,000"},
		{1234567, "1,234,567"},
		{100000000, "100,000,000"},
	}
	for _, tt := range tests {
		if got := groupDigits(tt.in); got != tt.want {
			t.Errorf("groupDigits(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	if got := formatPct(0.25); got != "25.0%" {
		t.Errorf("formatPct(0.25) = %q", got)
	}
	if got := formatPct(0); got != "0.0%" {
		t.Errorf("formatPct(0) = %q", got)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFormatStatus(t *testing.T) {
	st := types.Status{
		State:       types.StateRunning,
		TargetTPS:   10,
		Attempts:    1500,
		Successes:   1490,
		Failures:    10,
		GasUsed:     31290000,
		TPS:         9.87,
		FailureRate: 10.0 / 1500,
		Block:       &types.BlockInfo{Number: 123456, BlockTimeSeconds: 2},
		Latency:     &types.LatencyStats{Count: 3, Min: 1, P50: 2, P95: 3, P99: 3, Max: 3},
		RecentTxs: []types.TxRecord{
			{Hash: "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060", Success: true, LatencyMs: 4},
			{Success: false, LatencyMs: 2, Error: "send: RPC error -32000: nonce too low"},
		},
	}

	out := formatStatus(mustJSON(t, st))

	for _, want := range []string{
		"## Load Generator Status",
		"running",
		"1,500",
		"1,490",
		"31,290,000",
		"9.87",
		"0.7%",
		"123,456",
		"## Submission Latency",
		"0x5c504ed432cb5113...",
		"nonce too low",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatStatus output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatStatus_Minimal(t *testing.T) {
	out := formatStatus(mustJSON(t, types.Status{State: types.StateIdle}))
	if strings.Contains(out, "## Chain") || strings.Contains(out, "## Submission Latency") {
		t.Errorf("idle status should omit chain and latency sections:\n%s", out)
	}
}

func TestFormatStatus_InvalidJSON(t *testing.T) {
	if out := formatStatus(json.RawMessage("{")); !strings.HasPrefix(out, "Error parsing status") {
		t.Errorf("got %q", out)
	}
}

func TestFormatHealth(t *testing.T) {
	raw := json.RawMessage(`{"ready":false,"checks":[{"name":"rpc","status":"failed","latency_ms":12,"error":"connection refused"}]}`)
	out := formatHealth(raw)
	if !strings.Contains(out, "NOT READY") {
		t.Errorf("missing NOT READY:\n%s", out)
	}
	if !strings.Contains(out, "rpc") || !strings.Contains(out, "(12ms) - connection refused") {
		t.Errorf("missing check line:\n%s", out)
	}
}

func TestFormatHistory(t *testing.T) {
	empty := formatHistory(mustJSON(t, types.RunPage{Runs: []types.RunSummary{}}))
	if !strings.Contains(empty, "No runs found.") {
		t.Errorf("empty history:\n%s", empty)
	}

	page := types.RunPage{
		Total: 1,
		Runs: []types.RunSummary{{
			ID:          "run-1",
			StartedAt:   time.Now(),
			TargetTPS:   5,
			FinalState:  types.StateStopped,
			Attempts:    300,
			FailureRate: 0.5,
		}},
	}
	out := formatHistory(mustJSON(t, page))
	for _, want := range []string{"### run-1", "stopped", "300", "50.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatHistory output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRunDetail(t *testing.T) {
	if out := formatRunDetail(json.RawMessage(`{}`)); out != "Run not found" {
		t.Errorf("got %q", out)
	}

	detail := types.RunDetail{
		Run: &types.RunSummary{
			ID:         "run-2",
			FinalState: types.StateCancelled,
			FirstBlock: 100,
			LastBlock:  103,
		},
		BlockSamples: []types.BlockSample{
			{Number: 100},
			{Number: 101, BlockTimeSeconds: 2},
			{Number: 103, BlockTimeSeconds: 4},
		},
		RateSamples: []types.RateSample{{TPS: 1}, {TPS: 2}},
	}
	out := formatRunDetail(mustJSON(t, detail))
	for _, want := range []string{"## Run: run-2", "cancelled", "## Chain", "3.00s", "Rate Samples:        2"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatRunDetail output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryPath(t *testing.T) {
	tests := []struct {
		limit, offset int
		want          string
	}{
		{10, 0, "/v1/history?limit=10&offset=0"},
		{100, 20, "/v1/history?limit=100&offset=20"},
		{0, -1, "/v1/history?limit=10&offset=0"},
		{500, 5, "/v1/history?limit=10&offset=5"},
	}
	for _, tt := range tests {
		if got := historyPath(tt.limit, tt.offset); got != tt.want {
			t.Errorf("historyPath(%d, %d) = %q, want %q", tt.limit, tt.offset, got, tt.want)
		}
	}
}
