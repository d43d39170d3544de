package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AlertsDispatched - доставка алертов по приёмникам (db, ws, nats)
var AlertsDispatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "alerts",
		Name:      "dispatched_total",
		Help:      "Alert deliveries by sink and result",
	},
	[]string{"sink", "result"},
)

func observeDispatch(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	AlertsDispatched.WithLabelValues(sink, result).Inc()
}
