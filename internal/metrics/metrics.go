package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchaseAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_purchase_attempts_total",
		Help: "Buy attempts by outcome.",
	}, []string{"outcome"})

	ReservationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_reservation_events_total",
		Help: "Reservation lifecycle transitions.",
	}, []string{"event"})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashsale_persist_failures_total",
		Help: "Failed attempts to durably mirror a claim.",
	})
)
