package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|challenge).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// InvitesIssued counts invitations created, labelled by target role.
	InvitesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_invites_issued_total",
			Help: "Total number of invitations issued",
		},
		[]string{"role"},
	)

	// SignupCompletions counts finished signups by second factor (otp|totp).
	SignupCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_signup_completions_total",
			Help: "Total number of completed signups",
		},
		[]string{"twofactor"},
	)

	// NotificationJobs counts notification deliveries by outcome (delivered|requeued|rejected).
	NotificationJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foyer_notification_jobs_total",
			Help: "Total number of notification jobs processed",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foyer_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
