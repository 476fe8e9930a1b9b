package api

import (
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/internal/conveyor"
	"github.com/obsidianstack/sortline/pkg/types"
)

// metrics serves GET /metrics in the Prometheus text exposition format.
// Gauges reflect the live dashboard snapshot under the active filter;
// counters cover the process lifetime.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range h.families() {
		// The text encoder rejects families without samples.
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			slog.Error("api: encode metrics failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func (h *Handler) families() []*dto.MetricFamily {
	snap := h.deps.Dashboard.Snapshot()
	stats := h.deps.Conveyor.Machine().Stats()
	filter := label("filter", snap.Filter)

	fams := []*dto.MetricFamily{
		gaugeFamily("sortline_events", "Events in the active filter window.",
			gauge(float64(snap.Total), filter)),
		gaugeFamily("sortline_fault_events", "Fault events in the active filter window.",
			gauge(float64(snap.FaultCount), filter)),
		gaugeFamily("sortline_throughput_per_minute", "Items per minute over the filtered, timestamped span.",
			gauge(snap.ThroughputPerMin, filter)),
		gaugeFamily("sortline_accuracy_percent", "Share of entries classified as something other than unknown.",
			gauge(float64(snap.AccuracyPct), filter)),
		gaugeFamily("sortline_category_events", "Non-fault events per disposal category.",
			categoryGauges(snap)...),
		gaugeFamily("sortline_recycled_material_events", "Recycled events per material.",
			materialGauges(snap)...),
		counterFamily("sortline_runs_total", "Sorting runs by outcome.",
			counter(float64(stats.Completed), label("outcome", "completed")),
			counter(float64(stats.Cancelled), label("outcome", "cancelled")),
			counter(float64(stats.Failed), label("outcome", "failed")),
		),
		counterFamily("sortline_faults_total", "Simulated faults appended to the log.",
			counter(float64(h.deps.Conveyor.Faults()))),
		gaugeFamily("sortline_conveyor_running", "1 while the conveyor is running.",
			gauge(boolFloat(h.deps.Conveyor.Active()))),
		gaugeFamily("sortline_conveyor_fault", "1 while the status light shows a fault.",
			gauge(boolFloat(h.deps.Conveyor.Status().State == conveyor.StateFault))),
		gaugeFamily("sortline_alerts_firing", "Alert rules currently firing.",
			gauge(float64(h.deps.Alerts.Firing()))),
	}
	if h.deps.Clients != nil {
		fams = append(fams, gaugeFamily("sortline_ws_clients", "Connected websocket clients.",
			gauge(float64(h.deps.Clients()))))
	}
	return fams
}

func categoryGauges(snap compute.Snapshot) []*dto.Metric {
	keys := make([]string, 0, len(snap.CategoryCounts))
	for c := range snap.CategoryCounts {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)
	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, gauge(float64(snap.CategoryCounts[types.Category(k)]), label("category", k)))
	}
	return out
}

func materialGauges(snap compute.Snapshot) []*dto.Metric {
	keys := make([]string, 0, len(snap.RecycledCounts))
	for m := range snap.RecycledCounts {
		keys = append(keys, m)
	}
	sort.Strings(keys)
	out := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, gauge(float64(snap.RecycledCounts[k]), label("material", k)))
	}
	return out
}

// --- dto builders -----------------------------------------------------------

func gaugeFamily(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: dto.MetricType_GAUGE.Enum(), Metric: ms}
}

func counterFamily(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: dto.MetricType_COUNTER.Enum(), Metric: ms}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: ptr(v)}}
}

func counter(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: ptr(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func ptr[T any](v T) *T { return &v }
