package rooms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rooms_created_total",
		Help: "Total rooms created",
	})

	metricCodeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rooms_code_fallback_total",
		Help: "Room codes issued through the low-entropy fallback path",
	})

	metricJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rooms_joins_total",
		Help: "Participant admissions by result",
	}, []string{"result"}) // ok, rejoin, not_found, closed, expired, full, error

	metricRoomsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rooms_swept_total",
		Help: "Rooms purged by expiry sweeps",
	})
)
