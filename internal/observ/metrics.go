package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// ObserveDuration records a duration observation in milliseconds.
func ObserveDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Milliseconds()), labels)
}

// CounterTotal sums a counter across all label sets. Used by the daily
// summary and by tests.
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Percentile computes the pth percentile of a histogram across all label
// sets. Returns 0 when no samples were recorded.
func Percentile(name string, p float64) float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var samples []float64
	for _, s := range reg.hist[name] {
		samples = append(samples, s...)
	}
	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	idx := int(float64(len(samples)) * p)
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the payload for the debug health endpoint.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy" | "degraded"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the handful of numbers worth checking mid-day.
type HealthMetrics struct {
	FetchSuccessRate   float64 `json:"fetch_success_rate"`
	FetchLatencyP95Ms  int64   `json:"fetch_latency_p95_ms"`
	ExecuteOvershootMs float64 `json:"execute_overshoot_ms"`
	MonitorPolls       int64   `json:"monitor_polls"`
	MonitorPollErrors  int64   `json:"monitor_poll_errors"`
}

var startTime = time.Now()

func healthMetrics() HealthMetrics {
	m := HealthMetrics{
		FetchLatencyP95Ms:  int64(Percentile("fetch_latency_ms", 0.95)),
		ExecuteOvershootMs: Percentile("execute_overshoot_ms", 0.5),
		MonitorPolls:       CounterTotal("monitor_polls_total"),
		MonitorPollErrors:  CounterTotal("monitor_poll_errors_total"),
	}
	requests := CounterTotal("fetch_requests_total")
	if requests > 0 {
		m.FetchSuccessRate = float64(CounterTotal("fetch_successes_total")) / float64(requests)
	}
	return m
}

// HealthHandler reports degraded when data fetches are failing often or the
// monitor loop is accumulating poll errors.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := healthMetrics()
		status := "healthy"
		code := http.StatusOK
		if (m.FetchSuccessRate > 0 && m.FetchSuccessRate < 0.9) || m.MonitorPollErrors > 3 {
			status = "degraded"
			code = http.StatusPartialContent
		}
		h := HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Metrics:   m,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	})
}
