package service

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/entitlement"
	"github.com/DukeRupert/askbot/internal/metrics"
)

// Welcome is returned by Start.
type Welcome struct {
	FreeLimit int
	Tiers     []domain.SubscriptionTier
}

// QuotaStatus describes one metered category for a user today.
type QuotaStatus struct {
	Category  domain.QuotaCategory
	Limit     int
	Remaining domain.Remaining
}

// UserStats is the /stats view of a user.
type UserStats struct {
	UserID             int64
	Username           string
	RegisteredAt       time.Time
	SubscriptionActive bool
	SubscriptionEnd    *civil.Date
	Quotas             []QuotaStatus
	NextReset          civil.Date
}

// Confirmation is the result of a purchase.
type Confirmation struct {
	Tier         domain.SubscriptionTier
	DurationDays int
	NewExpiry    civil.Date
}

// Tiers returns the upgrade catalogue.
func (a *Assistant) Tiers() []domain.SubscriptionTier {
	return a.catalogue.Tiers()
}

// Start bootstraps the user's record. Calling it again is harmless.
func (a *Assistant) Start(ctx context.Context, userID int64, username string) (*Welcome, error) {
	unlock, err := a.locks.Lock(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, "service.start", "request cancelled")
	}
	defer unlock()

	if _, err := a.loadOrCreate(ctx, userID, username); err != nil {
		metrics.StoreError("create")
		return nil, err
	}

	return &Welcome{
		FreeLimit: a.engine.Meter(domain.RequestKindText).Limit(),
		Tiers:     a.catalogue.Tiers(),
	}, nil
}

// Stats reports subscription state and today's remaining quota per category.
func (a *Assistant) Stats(ctx context.Context, userID int64, username string) (*UserStats, error) {
	unlock, err := a.locks.Lock(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, "service.stats", "request cancelled")
	}
	defer unlock()

	rec, err := a.loadOrCreate(ctx, userID, username)
	if err != nil {
		metrics.StoreError("get")
		return nil, err
	}

	today := a.Today()
	stats := &UserStats{
		UserID:             rec.UserID,
		Username:           rec.Username,
		RegisteredAt:       rec.CreatedAt.In(a.location),
		SubscriptionActive: entitlement.IsSubscriptionActive(rec, today),
		SubscriptionEnd:    rec.SubscriptionEnd,
		NextReset:          today.AddDays(1),
	}

	seen := make(map[domain.QuotaCategory]bool)
	for _, kind := range []domain.RequestKind{domain.RequestKindText, domain.RequestKindImage} {
		meter := a.engine.Meter(kind)
		if seen[meter.Category()] {
			continue
		}
		seen[meter.Category()] = true
		stats.Quotas = append(stats.Quotas, QuotaStatus{
			Category:  meter.Category(),
			Limit:     meter.Limit(),
			Remaining: meter.RemainingQuota(rec, today),
		})
	}
	return stats, nil
}

// Purchase grants the tier's duration once payment is confirmed by the
// caller. An unknown tier id is rejected without touching the store.
func (a *Assistant) Purchase(ctx context.Context, userID int64, username, tierID string) (*Confirmation, error) {
	const op = "service.purchase"

	tier, ok := a.catalogue.Lookup(tierID)
	if !ok {
		return nil, domain.InvalidTier(op, tierID)
	}

	unlock, err := a.locks.Lock(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "request cancelled")
	}
	defer unlock()

	if _, err := a.loadOrCreate(ctx, userID, username); err != nil {
		metrics.StoreError("get")
		return nil, err
	}

	expiry, err := a.store.GrantSubscription(ctx, userID, tier.DurationDays, a.Today())
	if err != nil {
		metrics.StoreError("grant_subscription")
		a.logger.Error("failed to grant subscription", "user_id", userID, "tier", tier.ID, "error", err)
		return nil, err
	}

	metrics.SubscriptionGranted(tier.ID)
	a.logger.Info("subscription granted",
		"user_id", userID,
		"tier", tier.ID,
		"days", tier.DurationDays,
		"expires", expiry.String(),
	)

	return &Confirmation{
		Tier:         tier,
		DurationDays: tier.DurationDays,
		NewExpiry:    expiry,
	}, nil
}
