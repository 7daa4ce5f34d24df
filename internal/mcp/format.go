package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

const maxListedTxs = 10

// groupDigits adds comma separators to an unsigned integer.
func groupDigits(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// kv formats a key-value pair with a 20 character key column.
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// formatPct formats a 0..1 ratio as a percentage.
func formatPct(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatLatency(title string, lat *types.LatencyStats) string {
	if lat == nil || lat.Count == 0 {
		return ""
	}
	return joinLines(
		section(title),
		kv("Samples", groupDigits(uint64(lat.Count))),
		kv("Min", formatMs(lat.Min)),
		kv("P50", formatMs(lat.P50)),
		kv("P95", formatMs(lat.P95)),
		kv("P99", formatMs(lat.P99)),
		kv("Max", formatMs(lat.Max)),
	)
}

// blocks joins sections with a blank line, skipping empty ones.
func blocks(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func formatStatus(raw json.RawMessage) string {
	var st types.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	overview := joinLines(
		section("Load Generator Status"),
		kv("State", st.State),
		kv("Run", st.RunID),
		kv("Sender", st.Sender),
		kv("Chain ID", st.ChainID),
		kv("Target TPS", fmt.Sprintf("%.2f", st.TargetTPS)),
		kv("Elapsed", fmt.Sprintf("%.1fs", float64(st.ElapsedMs)/1000)),
	)

	counters := joinLines(
		section("Counters"),
		kv("Attempts", groupDigits(st.Attempts)),
		kv("Successes", groupDigits(st.Successes)),
		kv("Failures", groupDigits(st.Failures)),
		kv("RPC Calls", groupDigits(st.RPCCalls)),
		kv("Gas Used", groupDigits(st.GasUsed)),
	)

	rates := joinLines(
		section("Rates"),
		kv("TPS", fmt.Sprintf("%.2f", st.TPS)),
		kv("RPC/s", fmt.Sprintf("%.2f", st.RPS)),
		kv("MGas/s", fmt.Sprintf("%.3f", st.MgasPerSecond)),
		kv("Failure Rate", formatPct(st.FailureRate)),
	)

	var chain string
	if st.Block != nil {
		chain = joinLines(
			section("Chain"),
			kv("Block", groupDigits(st.Block.Number)),
			kv("Block Time", fmt.Sprintf("%.2fs", st.Block.BlockTimeSeconds)),
			kv("Observed", formatTime(st.Block.ObservedAt)),
		)
	}

	var recent string
	if len(st.RecentTxs) > 0 {
		lines := []string{section("Recent Transactions")}
		for i, tx := range st.RecentTxs {
			if i >= maxListedTxs {
				lines = append(lines, fmt.Sprintf("... and %d more", len(st.RecentTxs)-maxListedTxs))
				break
			}
			lines = append(lines, formatTx(tx))
		}
		recent = joinLines(lines...)
	}

	return blocks(overview, counters, rates, chain, formatLatency("Submission Latency", st.Latency), recent)
}

func formatTx(tx types.TxRecord) string {
	if tx.Success {
		return fmt.Sprintf("  ok    %s  %s", shortHash(tx.Hash), formatMs(tx.LatencyMs))
	}
	return fmt.Sprintf("  fail  %s  %s", formatMs(tx.LatencyMs), tx.Error)
}

func shortHash(h string) string {
	if len(h) <= 18 {
		return h
	}
	return h[:18] + "..."
}

type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

func formatHealth(raw json.RawMessage) string {
	var r readiness
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}
	lines := []string{section("Load Generator Health: " + state)}
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines = append(lines, line)
	}
	return joinLines(lines...)
}

func formatHistory(raw json.RawMessage) string {
	var page types.RunPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	header := joinLines(
		section("Run History"),
		kv("Total Runs", groupDigits(uint64(page.Total))),
	)
	if len(page.Runs) == 0 {
		return header + "\n\nNo runs found."
	}

	parts := []string{header}
	for _, run := range page.Runs {
		parts = append(parts, joinLines(
			"### "+run.ID,
			kv("State", run.FinalState),
			kv("Started", formatTime(run.StartedAt)),
			kv("Target TPS", fmt.Sprintf("%.2f", run.TargetTPS)),
			kv("Attempts", groupDigits(run.Attempts)),
			kv("Failure Rate", formatPct(run.FailureRate)),
			kv("Avg TPS", fmt.Sprintf("%.2f", run.AverageTPS)),
		))
	}
	return blocks(parts...)
}

func formatRunDetail(raw json.RawMessage) string {
	var detail types.RunDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}
	run := detail.Run
	if run == nil {
		return "Run not found"
	}

	completed := "-"
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}

	summary := joinLines(
		section("Run: "+run.ID),
		kv("RPC URL", run.RPCURL),
		kv("State", run.FinalState),
		kv("Started", formatTime(run.StartedAt)),
		kv("Completed", completed),
		kv("Duration", fmt.Sprintf("%.1fs", float64(run.DurationMs)/1000)),
		kv("Target TPS", fmt.Sprintf("%.2f", run.TargetTPS)),
		kv("Attempts", groupDigits(run.Attempts)),
		kv("Successes", groupDigits(run.Successes)),
		kv("Failures", groupDigits(run.Failures)),
		kv("RPC Calls", groupDigits(run.RPCCalls)),
		kv("Gas Used", groupDigits(run.GasUsed)),
		kv("Avg TPS", fmt.Sprintf("%.2f", run.AverageTPS)),
		kv("Peak TPS", fmt.Sprintf("%.2f", run.PeakTPS)),
		kv("Failure Rate", formatPct(run.FailureRate)),
	)

	var chain string
	if run.LastBlock > 0 {
		chain = joinLines(
			section("Chain"),
			kv("First Block", groupDigits(run.FirstBlock)),
			kv("Last Block", groupDigits(run.LastBlock)),
			kv("Blocks Seen", groupDigits(uint64(len(detail.BlockSamples)))),
			kv("Avg Block Time", fmt.Sprintf("%.2fs", averageBlockTime(detail.BlockSamples))),
		)
	}

	samples := kv("Rate Samples", groupDigits(uint64(len(detail.RateSamples))))

	return blocks(summary, chain, formatLatency("Submission Latency", run.Latency), samples)
}

// averageBlockTime averages the non-zero block time samples.
func averageBlockTime(samples []types.BlockSample) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if s.BlockTimeSeconds > 0 {
			sum += s.BlockTimeSeconds
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
