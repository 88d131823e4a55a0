package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Published tracks results mirrored to Redis
	Published = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_mirror_published_total",
			Help: "Total number of results published to the Redis mirror",
		},
	)

	// Errors tracks mirror operation errors
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_mirror_errors_total",
			Help: "Total number of mirror operation errors",
		},
		[]string{"operation"}, // "publish", "get", "count"
	)
)
