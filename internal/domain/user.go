// Package domain contains core business types and interfaces.
//
// This file defines the per-user entitlement record and the interaction log
// entry. These types are independent of any storage engine: the memory and SQL
// stores both translate to and from them.
package domain

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// DailyUsage is the free-tier counter of one quota category.
//
// Used is only meaningful for Date: on any later calendar date the effective
// count is zero. A zero Date means the category was never consumed.
type DailyUsage struct {
	Used int
	Date civil.Date
}

// UsedOn returns the effective count for the given day.
func (u DailyUsage) UsedOn(today civil.Date) int {
	if u.Date.IsZero() || u.Date != today {
		return 0
	}
	return u.Used
}

// UserRecord is the durable entitlement state of one chat user.
type UserRecord struct {
	UserID   int64
	Username string

	// Usage holds one counter per quota category. The text category carries
	// the classic free_requests_used / last_request_date pair.
	Usage map[QuotaCategory]DailyUsage

	// SubscriptionEnd is the last day (inclusive) of paid access, or nil if
	// nothing was ever purchased. A stored value that failed to parse is kept
	// as an invalid date so it never grants access.
	SubscriptionEnd *civil.Date

	CreatedAt time.Time
}

// UsageFor returns the counter for a category (zero value if never used).
func (r *UserRecord) UsageFor(category QuotaCategory) DailyUsage {
	if r == nil || r.Usage == nil {
		return DailyUsage{}
	}
	return r.Usage[category]
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Usage != nil {
		c.Usage = make(map[QuotaCategory]DailyUsage, len(r.Usage))
		for k, v := range r.Usage {
			c.Usage[k] = v
		}
	}
	if r.SubscriptionEnd != nil {
		end := *r.SubscriptionEnd
		c.SubscriptionEnd = &end
	}
	return &c
}

// NewUserRecord returns a fresh record with zeroed counters.
func NewUserRecord(userID int64, username string, createdAt time.Time) *UserRecord {
	return &UserRecord{
		UserID:    userID,
		Username:  username,
		Usage:     make(map[QuotaCategory]DailyUsage),
		CreatedAt: createdAt,
	}
}

// Interaction is one append-only audit log entry. It is never read back by
// admission logic.
type Interaction struct {
	ID            uuid.UUID
	UserID        int64
	Kind          RequestKind
	RequestText   string
	ResponseText  string
	AttachmentKey string          // Object storage key of an archived photo, if any
	Metadata      json.RawMessage // Model, token counts, duration
	CreatedAt     time.Time
}

// InteractionMetadata is serialized into Interaction.Metadata.
type InteractionMetadata struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// UsageStats is an aggregate snapshot used for reporting gauges.
type UsageStats struct {
	Users               int64
	ActiveSubscriptions int64
	ActiveToday         int64
}
