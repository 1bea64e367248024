package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Translation client ──────────────────────────────────────────────────────

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Chat completion calls, labelled by model and outcome (ok or error).",
	}, []string{"model", "outcome"})

	LLMErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "llm",
		Name:      "errors_total",
		Help:      "Translation API failures, labelled by classification and HTTP status.",
	}, []string{"classification", "status"})

	LLMRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paper_translate",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Wall time of a single chat completion round trip.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"model"})

	// ─── Translation service ─────────────────────────────────────────────────────

	FieldsTranslated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "translate",
		Name:      "fields_total",
		Help:      "Translated fields, labelled by outcome (ok, parity, leftover, empty, error).",
	}, []string{"outcome"})

	SanityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "translate",
		Name:      "warnings_total",
		Help:      "Non-fatal sanity check warnings, labelled by check.",
	}, []string{"check"})

	// ─── QA gate ─────────────────────────────────────────────────────────────────

	QAResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "qa",
		Name:      "results_total",
		Help:      "QA verdicts, labelled by status.",
	}, []string{"status"})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Jobs finished by this process, labelled by terminal report (completed, qa_flagged, failed).",
	}, []string{"result"})

	JobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paper_translate",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "End-to-end time to translate, check and store one paper.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "paper_translate",
		Subsystem: "worker",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being processed by this process.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Job store operation failures seen by workers, labelled by operation.",
	}, []string{"op"})

	FatalAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paper_translate",
		Subsystem: "worker",
		Name:      "fatal_alerts_total",
		Help:      "Fatal credential or quota errors that stopped a worker.",
	})
)
