package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_commits_total",
		Help: "Commit attempts, labeled by outcome (committed or error kind)",
	}, []string{"outcome"})

	commitBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockledger_commit_entries",
		Help:    "Entries per successful commit",
		Buckets: []float64{1, 2, 3, 5, 10},
	})
)
