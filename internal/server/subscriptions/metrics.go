package subscriptions

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	deliveriesTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		deliveriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location",
			Name:      "webhook_deliveries_total",
			Help:      "Total number of location change webhook deliveries.",
		}, []string{"result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

const (
	deliveryDelivered = "delivered"
	deliveryFailed    = "failed"
	deliveryDropped   = "dropped"
)
