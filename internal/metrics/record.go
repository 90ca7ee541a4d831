package metrics

import (
	"time"

	"github.com/DukeRupert/askbot/internal/domain"
)

// AskOutcome records how an ask request ended
func AskOutcome(kind domain.RequestKind, outcome string) {
	AsksTotal.WithLabelValues(string(kind), outcome).Inc()
}

// AICall records a generative API call and its token usage
func AICall(provider string, err error, duration time.Duration, inputTokens, outputTokens int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AIAPICalls.WithLabelValues(provider, status).Inc()
	AIRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if inputTokens > 0 {
		AITokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		AITokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// StoreError records a failed store operation
func StoreError(op string) {
	StoreErrorsTotal.WithLabelValues(op).Inc()
}

// SubscriptionGranted records a successful purchase
func SubscriptionGranted(tierID string) {
	SubscriptionsGrantedTotal.WithLabelValues(tierID).Inc()
}

// UsageSnapshot sets the reporting gauges
func UsageSnapshot(stats domain.UsageStats) {
	UsersTotal.Set(float64(stats.Users))
	ActiveSubscriptions.Set(float64(stats.ActiveSubscriptions))
	ActiveToday.Set(float64(stats.ActiveToday))
}

// AuditWritten records a successful interaction log write
func AuditWritten() {
	AuditRecordsTotal.WithLabelValues("written").Inc()
}

// AuditFailed records a failed interaction log write
func AuditFailed() {
	AuditRecordsTotal.WithLabelValues("failed").Inc()
}

// AuditDropped records an entry dropped because the queue was full
func AuditDropped() {
	AuditRecordsTotal.WithLabelValues("dropped").Inc()
}
