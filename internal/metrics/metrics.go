package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	InquiriesCreated  prometheus.Counter
	CheckoutsTotal    *prometheus.CounterVec
	PaymentEvents     *prometheus.CounterVec
	FulfillmentTotal  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	RefundsCredited   prometheus.Counter
	ManualRefunds     prometheus.Counter
	ReconcileFlagged  prometheus.Counter
	CompensationFails prometheus.Counter
	OrdersExpired     prometheus.Counter
	JobsProcessed     *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobsDeadLettered  *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InquiriesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_inquiries_created_total",
			Help: "Inquiries created.",
		}),
		CheckoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepaid_checkouts_total",
			Help: "Checkout attempts by result code.",
		}, []string{"result"}),
		PaymentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepaid_payment_events_total",
			Help: "Payment events applied by status and result.",
		}, []string{"status", "result"}),
		FulfillmentTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepaid_fulfillment_total",
			Help: "Fulfillment attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prepaid_provider_topup_seconds",
			Help:    "Provider top-up call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		RefundsCredited: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_refunds_credited_total",
			Help: "Balance refunds credited after failed fulfillment.",
		}),
		ManualRefunds: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_refunds_manual_total",
			Help: "Guest orders flagged for manual refund.",
		}),
		ReconcileFlagged: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_orders_reconcile_flagged_total",
			Help: "Orders left PENDING at the provider after the last re-check.",
		}),
		CompensationFails: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_compensation_failures_total",
			Help: "Compensation transactions that aborted.",
		}),
		OrdersExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "prepaid_orders_expired_total",
			Help: "Unpaid orders expired by the sweeper.",
		}),
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepaid_jobs_processed_total",
			Help: "Jobs handled by name and result kind.",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prepaid_job_duration_seconds",
			Help:    "Job handler duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		JobsDeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepaid_jobs_dead_lettered_total",
			Help: "Jobs sent to the dead-letter topic.",
		}, []string{"job"}),
	}
}
