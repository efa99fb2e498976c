package location

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	notificationsTotal *prometheus.CounterVec
	itemsTotal         *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		notificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location",
			Name:      "notifications_total",
			Help:      "Total number of change notifications seen by the location resolver.",
		}, []string{"result"}),
		itemsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location",
			Name:      "items_total",
			Help:      "Total number of per-item location resolutions.",
		}, []string{"result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// notification results
const (
	notificationIgnored    = "ignored"
	notificationIrrelevant = "irrelevant"
	notificationMissing    = "missing"
	notificationNoItems    = "no_items"
	notificationProcessed  = "processed"
	notificationFailed     = "failed"
)

// item results
const (
	itemUpdated   = "updated"
	itemUnchanged = "unchanged"
	itemSkipped   = "skipped"
	itemFailed    = "failed"
)
