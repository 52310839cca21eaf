// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommand = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gimap_imap_command_total",
			Help: "IMAP commands issued and their results.",
		},
		[]string{
			"cmd",    // select, uid, append, ...
			"result", // ok, no, bad, error
		},
	)

	metricAuth = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gimap_authentication_total",
			Help: "Authentication attempts and results.",
		},
		[]string{
			"mechanism", // login, xoauth2
			"result",    // ok, no, bad, error
		},
	)

	metricTrashSearchRetry = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gimap_trash_search_retry_total",
			Help: "Retries of the trash search while waiting for Gmail to index a copied message.",
		},
	)

	metricDeleteAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gimap_delete_abandoned_total",
			Help: "Deletes abandoned because the copied message never became searchable in the trash.",
		},
	)
)

// CommandObserve counts one executed IMAP command with its result.
func CommandObserve(cmd, result string) {
	metricCommand.WithLabelValues(cmd, result).Inc()
}

// AuthObserve counts one authentication attempt with its result.
func AuthObserve(mechanism, result string) {
	metricAuth.WithLabelValues(mechanism, result).Inc()
}

// TrashSearchRetryInc counts one retried trash search during delete.
func TrashSearchRetryInc() {
	metricTrashSearchRetry.Inc()
}

// DeleteAbandonedInc counts one delete that gave up after exhausting its
// retries.
func DeleteAbandonedInc() {
	metricDeleteAbandoned.Inc()
}
