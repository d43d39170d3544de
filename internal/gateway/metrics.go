package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration - latency запросов к gateway по операции
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskguard",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Latency of DEX gateway requests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	// requestErrors - ошибки запросов по операции и классу
	requestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskguard",
			Subsystem: "gateway",
			Name:      "request_errors_total",
			Help:      "Failed DEX gateway requests",
		},
		[]string{"op", "class"}, // class: network, client, server, decode
	)
)
