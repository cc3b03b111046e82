package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"
)

// ───────── Metrics (Prometheus exposition) ─────────

// Metrics tracks facilitator HTTP traffic and last-run counters. All methods
// tolerate a nil receiver so offline paths can skip wiring entirely.
type Metrics struct {
	mu sync.Mutex

	reqTotalByCode map[int]uint64
	errTotalByType map[string]uint64
	latSumMs       float64
	latCount       uint64

	lastRun runStats

	start time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		reqTotalByCode: make(map[int]uint64, 8),
		errTotalByType: make(map[string]uint64, 4),
		start:          time.Now(),
	}
}

// RecordRequest is the Observe hook handed to each HTTP source.
func (m *Metrics) RecordRequest(code int, ms float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reqTotalByCode[code]++
	m.latSumMs += ms
	m.latCount++
	m.mu.Unlock()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.errTotalByType[kind]++
	m.mu.Unlock()
}

func (m *Metrics) SetLastRun(stats runStats) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastRun = stats
	m.mu.Unlock()
}

func startMetrics(addr string, m *Metrics) {
	if addr == "" || m == nil {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP x402sync_http_requests_total Total facilitator requests\n")
		fmt.Fprintf(w, "# TYPE x402sync_http_requests_total counter\n")
		for code, n := range m.reqTotalByCode {
			fmt.Fprintf(w, "x402sync_http_requests_total{code=\"%d\"} %d\n", code, n)
		}
		fmt.Fprintf(w, "# HELP x402sync_errors_total Fetch/item errors\n# TYPE x402sync_errors_total counter\n")
		for kind, n := range m.errTotalByType {
			fmt.Fprintf(w, "x402sync_errors_total{type=\"%s\"} %d\n", kind, n)
		}
		avg := 0.0
		if m.latCount > 0 {
			avg = m.latSumMs / float64(m.latCount)
		}
		fmt.Fprintf(w, "# HELP x402sync_http_latency_ms_avg Mean facilitator request latency\n# TYPE x402sync_http_latency_ms_avg gauge\nx402sync_http_latency_ms_avg %f\n", avg)
		fmt.Fprintf(w, "# HELP x402sync_last_run_fetched Items fetched in the last run\n# TYPE x402sync_last_run_fetched gauge\nx402sync_last_run_fetched %d\n", m.lastRun.Fetched)
		fmt.Fprintf(w, "# HELP x402sync_last_run_deduped Unique items in the last run\n# TYPE x402sync_last_run_deduped gauge\nx402sync_last_run_deduped %d\n", m.lastRun.Deduped)
		fmt.Fprintf(w, "# HELP x402sync_last_run_errors Errors counted in the last run\n# TYPE x402sync_last_run_errors gauge\nx402sync_last_run_errors %d\n", m.lastRun.Errors)
		fmt.Fprintf(w, "# HELP x402sync_last_run_duration_seconds Last run wall time\n# TYPE x402sync_last_run_duration_seconds gauge\nx402sync_last_run_duration_seconds %f\n", m.lastRun.DurationSec)
		fmt.Fprintf(w, "# HELP x402sync_uptime_seconds Process uptime\n# TYPE x402sync_uptime_seconds counter\nx402sync_uptime_seconds %f\n", time.Since(m.start).Seconds())
	})

	// pprof
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
