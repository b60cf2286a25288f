// Package metrics aggregates per-target latency across races.
//
// The [Collector] keeps two HDR histograms per target, one for the time to
// the first fragment and one for the time to settle, plus outcome counts and
// a breakdown of failure kinds:
//
//	collector := metrics.NewCollector()
//	collector.Record(metrics.Observation{
//		Target:     "openai/gpt-4o",
//		FirstChunk: 310 * time.Millisecond,
//		Total:      2 * time.Second,
//	})
//	for _, s := range collector.Stats() {
//		fmt.Println(s.Target, s.FirstChunk.P50)
//	}
//
// It is safe to call Record from multiple goroutines.
package metrics
