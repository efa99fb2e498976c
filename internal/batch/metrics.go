package batch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runsTotal             *prometheus.CounterVec
	relationsCreatedTotal prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "runs_total",
			Help:      "Total number of group linker runs.",
		}, []string{"status"}),
		relationsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "relations_created_total",
			Help:      "Total number of relation records created by the group linker.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
