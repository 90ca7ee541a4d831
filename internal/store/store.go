// Package store defines the entitlement store: the durable per-user record
// and the append-only interaction log.
package store

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/DukeRupert/askbot/internal/domain"
)

// Store persists user entitlement records.
//
// Errors are *domain.Error values: ENOTFOUND when a record is absent and
// ESTORAGE for any read or write failure. Implementations must make
// ApplyConsumption and GrantSubscription atomic per user.
type Store interface {
	// Get returns the record for userID without side effects.
	Get(ctx context.Context, userID int64) (*domain.UserRecord, error)

	// Create inserts a zeroed record if none exists. It is a no-op for an
	// existing user.
	Create(ctx context.Context, userID int64, username string) error

	// ApplyConsumption records one consumed request in category on onDate.
	// A stored date other than onDate resets the counter to 1.
	ApplyConsumption(ctx context.Context, userID int64, category domain.QuotaCategory, onDate civil.Date) error

	// GrantSubscription extends paid access by days, measured from the later
	// of the current expiry and today, and returns the new expiry.
	GrantSubscription(ctx context.Context, userID int64, days int, today civil.Date) (civil.Date, error)

	// RecordInteraction appends an entry to the interaction log.
	RecordInteraction(ctx context.Context, in domain.Interaction) error

	// Stats returns aggregate counts used by the reporting job.
	Stats(ctx context.Context, today civil.Date) (domain.UsageStats, error)

	// Close releases underlying resources.
	Close() error
}
