package metrics

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_job_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)

	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_job_runs_total",
			Help: "Pipeline runs by job and result",
		},
		[]string{"job", "result"},
	)

	PlacesFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_places_found_total",
			Help: "Places returned by place search",
		},
	)

	LeadsInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_leads_inserted_total",
			Help: "New leads written by discovery",
		},
	)

	EmailsFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_emails_found_total",
			Help: "Contact emails extracted from business websites",
		},
	)

	DiscoveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_discovery_errors_total",
			Help: "Per-ZIP and per-place discovery failures",
		},
		[]string{"stage"},
	)

	EmailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_drip_emails_total",
			Help: "Drip emails by step and result",
		},
		[]string{"step", "result"},
	)

	CallsPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_calls_total",
			Help: "Outbound call dispatches by result",
		},
		[]string{"result"},
	)

	CallCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_call_callbacks_total",
			Help: "Provider call status callbacks by mapped status",
		},
		[]string{"status"},
	)

	ToolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_tool_invocations_total",
			Help: "Voice agent tool invocations by tool and result",
		},
		[]string{"tool", "result"},
	)

	ArticlesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_newsroom_articles_scanned_total",
			Help: "Newsroom articles scanned",
		},
	)

	FiberZipsFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_newsroom_zip_codes_total",
			Help: "ZIP codes attributed to fiber launch articles",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_event_subscribers",
			Help: "Connected lead event stream clients",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(JobDuration)
		prometheus.MustRegister(JobRuns)
		prometheus.MustRegister(PlacesFound)
		prometheus.MustRegister(LeadsInserted)
		prometheus.MustRegister(EmailsFound)
		prometheus.MustRegister(DiscoveryErrors)
		prometheus.MustRegister(EmailsSent)
		prometheus.MustRegister(CallsPlaced)
		prometheus.MustRegister(CallCallbacks)
		prometheus.MustRegister(ToolInvocations)
		prometheus.MustRegister(ArticlesScanned)
		prometheus.MustRegister(FiberZipsFound)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(EventSubscribers)
	})
}

// ObserveJob records a finished run of job that started at start.
func ObserveJob(job string, start time.Time, err error) {
	JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
