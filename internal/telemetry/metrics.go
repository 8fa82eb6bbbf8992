package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trivia"

var (
	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_started_total",
		Help:      "Number of game sessions started.",
	})

	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_ended_total",
		Help:      "Number of game sessions ended, by reason.",
	}, []string{"reason"})

	GamesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "games_active",
		Help:      "Number of game sessions currently running in this process.",
	})

	Rounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_total",
		Help:      "Number of question rounds, by result (resolved, skipped) and close reason.",
	}, []string{"result", "close"})

	Answers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Number of answer button presses, by verdict.",
	}, []string{"verdict"})

	AnswerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "answer_latency_seconds",
		Help:      "Latency of accepted answers since the question was posted.",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60},
	})
)
