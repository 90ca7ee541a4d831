// Package entitlement decides whether a user may consume a request.
//
// Every function here is pure over (record, today): no clock, no store, no
// logging. The caller supplies today's calendar date in the configured time
// zone and applies the returned mutation only after the upstream call
// succeeds.
package entitlement

import (
	"cloud.google.com/go/civil"

	"github.com/DukeRupert/askbot/internal/domain"
)

// IsSubscriptionActive reports whether rec has paid access on today.
// The end date is inclusive. A missing or unparseable end date is inactive.
func IsSubscriptionActive(rec *domain.UserRecord, today civil.Date) bool {
	if rec == nil || rec.SubscriptionEnd == nil {
		return false
	}
	end := *rec.SubscriptionEnd
	if !end.IsValid() {
		return false
	}
	return !end.Before(today)
}

// ExtendSubscription returns the expiry after purchasing days of access:
// max(current ?? today, today) + days. Stacking purchases extend from the
// later of the current expiry and today, so a lapsed subscription restarts
// from today.
func ExtendSubscription(current *civil.Date, today civil.Date, days int) civil.Date {
	base := today
	if current != nil && current.IsValid() && current.After(today) {
		base = *current
	}
	return base.AddDays(days)
}

// Engine resolves request kinds to meters under a quota policy.
type Engine struct {
	policy domain.QuotaPolicy
}

// New returns an engine. The policy must already be validated.
func New(policy domain.QuotaPolicy) *Engine {
	return &Engine{policy: policy}
}

// Meter returns the quota meter that applies to a request kind.
func (e *Engine) Meter(kind domain.RequestKind) Meter {
	category := e.policy.CategoryFor(kind)
	return NewMeter(category, e.policy.Limits[category])
}

// Meter evaluates one quota category against a fixed daily limit.
type Meter struct {
	category domain.QuotaCategory
	limit    int
}

// NewMeter returns a meter for category with the given daily limit.
func NewMeter(category domain.QuotaCategory, limit int) Meter {
	return Meter{category: category, limit: limit}
}

// Category returns the metered quota category.
func (m Meter) Category() domain.QuotaCategory { return m.category }

// Limit returns the daily free limit.
func (m Meter) Limit() int { return m.limit }

// EffectiveUsedCount is the stored count if it was recorded today, else 0.
func (m Meter) EffectiveUsedCount(rec *domain.UserRecord, today civil.Date) int {
	return rec.UsageFor(m.category).UsedOn(today)
}

// CanConsume reports whether one more request is permitted.
// An absent record is never permitted; callers bootstrap it first.
func (m Meter) CanConsume(rec *domain.UserRecord, today civil.Date) bool {
	if rec == nil {
		return false
	}
	if IsSubscriptionActive(rec, today) {
		return true
	}
	return m.EffectiveUsedCount(rec, today) < m.limit
}

// RemainingQuota returns Unbounded for subscribers, otherwise the number of
// free requests left today.
func (m Meter) RemainingQuota(rec *domain.UserRecord, today civil.Date) domain.Remaining {
	if IsSubscriptionActive(rec, today) {
		return domain.Unbounded()
	}
	return domain.Finite(m.limit - m.EffectiveUsedCount(rec, today))
}

// Mutation is the consumption to apply to the store after a successful
// upstream call.
type Mutation struct {
	UserID   int64
	Category domain.QuotaCategory
	OnDate   civil.Date
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool

	// Remaining is the quota left before the request is consumed.
	Remaining domain.Remaining

	// Mutation is nil when the request is denied or covered by a
	// subscription. Subscriber requests do not touch the free-tier counter.
	Mutation *Mutation
}

// RemainingAfter returns the quota left once the mutation has been applied.
func (d Decision) RemainingAfter() domain.Remaining {
	if d.Remaining.IsUnbounded() || !d.Allowed {
		return d.Remaining
	}
	return domain.Finite(d.Remaining.Count() - 1)
}

// Decide evaluates a request.
func (m Meter) Decide(rec *domain.UserRecord, today civil.Date) Decision {
	if !m.CanConsume(rec, today) {
		return Decision{Remaining: m.RemainingQuota(rec, today)}
	}
	if IsSubscriptionActive(rec, today) {
		return Decision{Allowed: true, Remaining: domain.Unbounded()}
	}
	return Decision{
		Allowed:   true,
		Remaining: m.RemainingQuota(rec, today),
		Mutation: &Mutation{
			UserID:   rec.UserID,
			Category: m.category,
			OnDate:   today,
		},
	}
}

// Apply returns a copy of rec with the mutation applied, using the same rule
// as the store: a stale date resets the counter to 1.
func Apply(rec *domain.UserRecord, mut Mutation) *domain.UserRecord {
	out := rec.Clone()
	if out.Usage == nil {
		out.Usage = make(map[domain.QuotaCategory]domain.DailyUsage)
	}
	u := out.Usage[mut.Category]
	if u.Date != mut.OnDate {
		u = domain.DailyUsage{Used: 1, Date: mut.OnDate}
	} else {
		u.Used++
	}
	out.Usage[mut.Category] = u
	return out
}
