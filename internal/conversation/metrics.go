package conversation

import (
	"math"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
)

var llmTracer = otel.Tracer("emma.internal.conversation.llm")

const llmLatencyMetricName = "emma_conversation_llm_latency_seconds"

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "emma",
		Subsystem: "conversation",
		Name:      "llm_latency_seconds",
		Help:      "Latency of LLM completions",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30, 60},
	},
	[]string{"model", "status"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "emma",
		Subsystem: "conversation",
		Name:      "llm_tokens_total",
		Help:      "Tokens used by the LLM",
	},
	[]string{"model", "type"}, // type: input, output, total
)

var missingCustomFieldsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "emma",
		Subsystem: "intake",
		Name:      "missing_custom_fields_total",
		Help:      "Qualification replies that carried no custom-fields payload",
	},
	[]string{"phase"},
)

var llmFallbackTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "emma",
		Subsystem: "conversation",
		Name:      "llm_fallback_total",
		Help:      "Turns handed to the fallback provider after the primary failed",
	},
	[]string{"outcome"}, // served, failed, skipped
)

func init() {
	prometheus.MustRegister(llmLatency)
	prometheus.MustRegister(llmTokensTotal)
	prometheus.MustRegister(missingCustomFieldsTotal)
	prometheus.MustRegister(llmFallbackTotal)
}

// RegisterMetrics registers conversation metrics with a custom registry.
// Use this when exposing a non-default registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmTokensTotal, missingCustomFieldsTotal, llmFallbackTotal)
}

// LatencyBucket is one non-cumulative histogram bucket.
type LatencyBucket struct {
	LeSeconds float64 `json:"le_seconds"`
	Label     string  `json:"label,omitempty"`
	Count     int64   `json:"count"`
}

// LatencySnapshot summarizes successful LLM calls for the admin API.
type LatencySnapshot struct {
	Total   int64           `json:"total"`
	P90Ms   float64         `json:"p90_ms"`
	P95Ms   float64         `json:"p95_ms"`
	Buckets []LatencyBucket `json:"buckets"`
}

// SnapshotLLMLatency aggregates the latency histogram across models, keeping
// only status="ok" samples.
func SnapshotLLMLatency(gatherer prometheus.Gatherer) LatencySnapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return LatencySnapshot{}
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == llmLatencyMetricName {
			family = mf
			break
		}
	}
	if family == nil {
		return LatencySnapshot{}
	}

	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64
	for _, metric := range family.Metric {
		if metric == nil || !hasLabel(metric, "status", "ok") {
			continue
		}
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		sampleCount += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b != nil {
				cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
			}
		}
	}
	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return LatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	buckets := make([]LatencyBucket, 0, len(uppers)+1)
	var prev, bucketed uint64
	var lastUpper float64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		count := cum - prev
		if cum < prev {
			count = cum
		}
		buckets = append(buckets, LatencyBucket{LeSeconds: upper, Count: int64(count)})
		prev = cum
		bucketed = cum
		lastUpper = upper
	}
	// Samples above the largest bucket only show up in the sample count.
	if sampleCount > bucketed {
		buckets = append(buckets, LatencyBucket{
			LeSeconds: lastUpper,
			Label:     ">" + strconv.FormatFloat(lastUpper, 'f', -1, 64) + "s",
			Count:     int64(sampleCount - bucketed),
		})
	}

	return LatencySnapshot{
		Total:   int64(sampleCount),
		P90Ms:   histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper) * 1000,
		P95Ms:   histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper) * 1000,
		Buckets: buckets,
	}
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// histogramQuantile linearly interpolates inside the bucket holding rank q.
func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 || len(uppers) == 0 {
		return 0
	}
	rank := q * float64(total)
	lower := 0.0
	var prev uint64
	for _, upper := range uppers {
		cum := cumulativeByUpper[upper]
		if float64(cum) >= rank {
			inBucket := float64(cum - prev)
			if inBucket <= 0 {
				return upper
			}
			return lower + (upper-lower)*(rank-float64(prev))/inBucket
		}
		lower = upper
		prev = cum
	}
	return math.Max(lower, uppers[len(uppers)-1])
}
