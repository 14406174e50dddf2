// Package digest – Prometheus metrics
//
// Counters for scheduled digest activity. Labels are bounded: the only label
// value set is the two fixed job names.
package digest

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobRuns counts digest firings per job.
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_runs_total",
			Help: "Total digest job firings.",
		},
		[]string{"job"},
	)

	// userFailures counts per-user digest failures per job.
	userFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_user_failures_total",
			Help: "Total per-user digest runs that ended in an error.",
		},
		[]string{"job"},
	)

	// mailsSent counts successfully delivered digest e-mails.
	mailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_emails_sent_total",
			Help: "Total digest e-mails handed to the mail transport.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobRuns, userFailures, mailsSent)
}
