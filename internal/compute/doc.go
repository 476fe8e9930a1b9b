// Package compute derives live dashboard metrics from the sort event log.
//
// filter.go parses the time-window selector ("all" or a positive number of
// seconds).
//
// aggregate.go provides the pure Aggregate(events, filter, now) function. It
// has no side effects and holds no state; the caller passes now explicitly so
// tests control the clock without sleeping. Outputs:
//
//   - throughput per minute over the filtered, timestamped span
//   - accuracy %: share of entries classified as something other than unknown
//   - category and recycled-material breakdowns (faults excluded)
//   - a 10-second, wall-clock aligned trend (faults excluded)
//   - the newest entries rendered as log lines
//
// "Accuracy" is a proxy: it measures "classified as something specific", not
// correctness against ground truth.
package compute
