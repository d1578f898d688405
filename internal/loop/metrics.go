package loop

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ticks_total",
		Help: "Control-loop passes that acquired the lock and ran.",
	})
	ticksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ticks_skipped_total",
		Help: "Control-loop passes skipped because the lock was held.",
	})
	promotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_schedule_promotions_total",
		Help: "Schedules promoted from scheduled to active.",
	})
	completionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_schedule_completions_total",
		Help: "Schedules completed from active.",
	})
	itemErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_item_errors_total",
		Help: "Per-schedule failures isolated by the batch runner.",
	}, []string{"batch_status"})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_tick_duration_seconds",
		Help:    "Wall time of one full control-loop pass.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ticksTotal, ticksSkipped, promotionsTotal, completionsTotal, itemErrorsTotal, tickDuration)
}
