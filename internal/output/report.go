package output

import (
	"fmt"
	"io"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/metrics"
)

// PrintReport outputs per-target latency statistics.
func PrintReport(w io.Writer, stats []metrics.TargetStats) {
	fmt.Fprintln(w, "\n--- Latency ---")
	if len(stats) == 0 {
		fmt.Fprintln(w, "No targets recorded")
		return
	}
	for _, s := range stats {
		fmt.Fprintf(w, "%s\n", s.Target)
		fmt.Fprintf(w, "  Responded:       %d\n", s.Successes)
		fmt.Fprintf(w, "  Failed:          %d\n", s.Failures)
		if s.Aborted > 0 {
			fmt.Fprintf(w, "  Aborted:         %d\n", s.Aborted)
		}
		if s.FirstChunk.Count > 0 {
			fmt.Fprintf(w, "  First chunk:     min %s  p50 %s  p99 %s  max %s\n",
				FormatLatency(s.FirstChunk.Min), FormatLatency(s.FirstChunk.P50),
				FormatLatency(s.FirstChunk.P99), FormatLatency(s.FirstChunk.Max))
		}
		if s.Events > 0 || s.BytesReceived > 0 {
			fmt.Fprintf(w, "  Stream:          %d fragments from %d events, %d bytes\n", s.Fragments, s.Events, s.BytesReceived)
		}
		if s.Dropped > 0 {
			fmt.Fprintf(w, "  Dropped:         %d malformed payloads\n", s.Dropped)
		}
		if s.Total.Count > 0 {
			fmt.Fprintf(w, "  Total:           min %s  p50 %s  p99 %s  max %s\n",
				FormatLatency(s.Total.Min), FormatLatency(s.Total.P50),
				FormatLatency(s.Total.P99), FormatLatency(s.Total.Max))
		}
	}

	rows := metrics.FlattenFailures(stats)
	if len(rows) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, row := range rows {
			fmt.Fprintf(w, "  %s %s: %d\n", row.Target, row.Kind, row.Count)
		}
	}
}

// PrintProviders lists the registered providers and their families.
func PrintProviders(w io.Writer, keys []string, lookup func(string) (backend.Backend, error)) {
	for _, key := range keys {
		b, err := lookup(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%-12s %s\n", key, b.Family())
	}
}
