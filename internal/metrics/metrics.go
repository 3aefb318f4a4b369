package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_api_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"api", "endpoint", "status"}, // data/gamma/lb, /trades, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpnl_api_request_duration_seconds",
			Help:    "Duration of upstream API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	// Fetcher metrics
	FetchPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_fetch_pages_total",
			Help: "Pages retrieved by the resilient fetcher",
		},
		[]string{"resource", "status"}, // ok, retried, missing
	)

	FetchRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_fetch_rate_limited_total",
			Help: "Batches that hit an upstream 429",
		},
		[]string{"resource"},
	)

	FetchRecords = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpnl_fetch_records",
			Help:    "Records returned per logical fetch",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"resource", "complete"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_cache_lookups_total",
			Help: "Cache lookups by outcome",
		},
		[]string{"resource", "result"}, // hit, remote_hit, miss, coalesced
	)

	// Aggregate computation
	DashboardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpnl_dashboard_duration_seconds",
			Help:    "Duration of full dashboard computations",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	PnLSourceSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_pnl_source_total",
			Help: "Which estimator produced the headline PnL",
		},
		[]string{"source"},
	)

	// Leaderboard refresh
	LeaderboardRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_leaderboard_refresh_total",
			Help: "Leaderboard snapshot refreshes per wallet",
		},
		[]string{"status"},
	)

	LeaderboardRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletpnl_leaderboard_refresh_duration_seconds",
			Help:    "Duration of a full leaderboard refresh run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpnl_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// HTTP surface
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletpnl_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletpnl_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordFetch records the outcome of one logical paginated fetch
func RecordFetch(resource string, records, retried, missing, rateLimitedBatches int, complete bool) {
	FetchPages.WithLabelValues(resource, "retried").Add(float64(retried))
	FetchPages.WithLabelValues(resource, "missing").Add(float64(missing))
	FetchRateLimited.WithLabelValues(resource).Add(float64(rateLimitedBatches))
	FetchRecords.WithLabelValues(resource, strconv.FormatBool(complete)).Observe(float64(records))
}

// RecordCacheLookup records a cache hit/miss outcome
func RecordCacheLookup(resource, result string) {
	CacheLookups.WithLabelValues(resource, result).Inc()
}

// RecordDashboard records a dashboard computation
func RecordDashboard(duration time.Duration, err error, pnlSource string) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DashboardDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil && pnlSource != "" {
		PnLSourceSelected.WithLabelValues(pnlSource).Inc()
	}
}

// RecordLeaderboardRefresh records a refresh run and how many wallets succeeded/failed
func RecordLeaderboardRefresh(duration time.Duration, ok, failed int) {
	LeaderboardRefreshes.WithLabelValues("success").Add(float64(ok))
	LeaderboardRefreshes.WithLabelValues("error").Add(float64(failed))
	LeaderboardRefreshDuration.Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Route pattern keeps wallet addresses out of the label set
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
