package dispatch

import "time"

// Collector is the interface metrics backends implement to observe
// dispatch outcomes, kept decoupled from any specific metrics library —
// adapted from the teacher framework's core/middleware.MetricsCollector,
// generalized from a per-topic subscription label to a dotted dispatch
// path.
type Collector interface {
	// DispatchProcessed records that path was dispatched, how long it
	// took, and whether it failed.
	DispatchProcessed(path string, duration time.Duration, err error)
}

// DispatchWithMetrics runs Dispatch and reports the outcome to
// collector, matching the teacher framework's per-subscription Metrics
// middleware but hung off the dispatch root rather than a broker
// subscription.
func DispatchWithMetrics(collector Collector, path []string, fn func() error) error {
	start := time.Now()
	err := fn()
	if collector != nil {
		collector.DispatchProcessed(joinPath(path), time.Since(start), err)
	}
	return err
}
