package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ka_route_decisions_total",
			Help: "Query routing decisions by path and matched rule",
		},
		[]string{"path", "reason"},
	)

	RouteUpgrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ka_route_upgrades_total",
			Help: "Fast routes upgraded to slow by the escape check",
		},
	)

	RetrievedChunks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ka_retrieval_chunks",
			Help:    "Chunks returned per retrieval call",
			Buckets: []float64{0, 1, 2, 5, 10, 15, 20, 25, 35},
		},
		[]string{"algorithm"},
	)

	RetrievalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ka_retrieval_errors_total",
			Help: "Recovered retrieval failures by stage",
		},
		[]string{"stage"},
	)

	FullDocumentSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ka_full_document_substitutions_total",
			Help: "Full-document substitutions by result",
		},
		[]string{"result"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ka_escalations_total",
			Help: "Iterative retrieval outcomes",
		},
		[]string{"outcome"},
	)

	StreamOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ka_stream_outcomes_total",
			Help: "Response streams by terminal state",
		},
		[]string{"state"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ka_turn_duration_seconds",
			Help:    "Wall time of one conversation turn",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)
