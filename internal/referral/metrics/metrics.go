package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the referral module: lifecycle counters
// feeding the linkage-rate dashboards and latency on the mutation paths.
type Metrics struct {
	ReferralsCreated   prometheus.Counter
	FollowUpsRecorded  prometheus.Counter
	LinkagesConfirmed  prometheus.Counter
	StatusChanges      prometheus.Counter
	ReferralsDeleted   prometheus.Counter
	OperationDuration  *prometheus.HistogramVec
	PermissionsDenied  prometheus.Counter
	TransitionRejected prometheus.Counter
}

// New creates a Metrics instance with all referral module metrics registered.
func New() *Metrics {
	return &Metrics{
		ReferralsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_referrals_created_total",
			Help: "Total number of referrals created",
		}),
		FollowUpsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_followups_recorded_total",
			Help: "Total number of follow-up attempts recorded",
		}),
		LinkagesConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_linkages_confirmed_total",
			Help: "Total number of verified linkages to care",
		}),
		StatusChanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_status_changes_total",
			Help: "Total number of referral status changes, including automatic ones",
		}),
		ReferralsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_referrals_deleted_total",
			Help: "Total number of referrals deleted",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carelink_referral_operation_duration_seconds",
			Help:    "Duration of referral mutation operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		PermissionsDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_permissions_denied_total",
			Help: "Total number of operations rejected by the permission gate",
		}),
		TransitionRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carelink_transitions_rejected_total",
			Help: "Total number of illegal status transitions rejected",
		}),
	}
}

// ObserveOperation records the duration of a mutation operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
