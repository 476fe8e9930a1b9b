package alerts

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/sortline/internal/compute"
)

// evalCondition evaluates a rule condition string against a dashboard Snapshot.
//
// Supported expressions (field operator value):
//
//	throughput_per_min < 6
//	accuracy_pct < 80
//	fault_count > 3
//	event_count == 0
//	recycled_pct < 50
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed, the field is
// unknown, or the field is undefined for snap (a percentage of nothing).
func evalCondition(cond string, snap compute.Snapshot) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, snap)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// validCondition reports whether cond parses with a known field and operator.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	if !fields[parts[0]] {
		return false
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==":
	default:
		return false
	}
	_, err := strconv.ParseFloat(parts[2], 64)
	return err == nil
}

// fields lists the snapshot fields a condition may reference.
var fields = map[string]bool{
	"throughput_per_min": true,
	"accuracy_pct":       true,
	"fault_count":        true,
	"event_count":        true,
	"recycled_pct":       true,
}

// numericField maps a field name to its value in the snapshot.
func numericField(field string, snap compute.Snapshot) (float64, bool) {
	switch field {
	case "throughput_per_min":
		return snap.ThroughputPerMin, true
	case "accuracy_pct":
		if snap.Total == 0 {
			return 0, false
		}
		return float64(snap.AccuracyPct), true
	case "fault_count":
		return float64(snap.FaultCount), true
	case "event_count":
		return float64(snap.Total), true
	case "recycled_pct":
		sorted := snap.RecycledSplit.Recycled + snap.RecycledSplit.Other
		if sorted == 0 {
			return 0, false
		}
		return float64(snap.RecycledSplit.Recycled) / float64(sorted) * 100, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
