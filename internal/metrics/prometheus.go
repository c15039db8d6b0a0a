package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnnouncementsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gleeworld_announcements",
		Help: "Number of announcements by derived lifecycle status",
	}, []string{"status"})

	AnnouncementTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gleeworld_announcement_tick_duration_seconds",
		Help:    "Time to evaluate all announcements in one tick",
		Buckets: prometheus.DefBuckets,
	})

	AnnouncementTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gleeworld_announcement_tick_errors_total",
		Help: "Total announcement ticks that failed to load records",
	})

	AnnouncementsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleeworld_announcements_fired_total",
		Help: "Total firing instants handed to delivery",
	}, []string{"kind"})

	DeliveryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleeworld_delivery_results_total",
		Help: "Delivery attempts by channel and result",
	}, []string{"channel", "result"})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gleeworld_sse_clients",
		Help: "Current number of SSE clients connected",
	})
)

func SetAnnouncementCount(status string, count int) {
	label := strings.TrimSpace(status)
	if label == "" {
		label = "unknown"
	}
	if count < 0 {
		count = 0
	}
	AnnouncementsByStatus.WithLabelValues(label).Set(float64(count))
}

func ObserveTickDuration(duration time.Duration) {
	AnnouncementTickDuration.Observe(duration.Seconds())
}

func IncTickError() {
	AnnouncementTickErrors.Inc()
}

func IncFired(recurring bool) {
	kind := "one_off"
	if recurring {
		kind = "recurring"
	}
	AnnouncementsFired.WithLabelValues(kind).Inc()
}

func IncDelivery(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DeliveryResults.WithLabelValues(channel, result).Inc()
}

func SetSSEClients(count int) {
	if count < 0 {
		count = 0
	}
	SSEClients.Set(float64(count))
}
