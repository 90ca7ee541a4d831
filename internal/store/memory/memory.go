// Package memory is an in-process entitlement store.
//
// It backs tests and DATABASE_DRIVER=memory. State is lost on restart.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/entitlement"
)

// Store keeps records in a map guarded by a single mutex. Reads return deep
// copies so callers never alias stored state.
type Store struct {
	mu           sync.Mutex
	users        map[int64]*domain.UserRecord
	interactions []domain.Interaction
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[int64]*domain.UserRecord),
		now:   time.Now,
	}
}

// Get returns a copy of the record for userID.
func (s *Store) Get(ctx context.Context, userID int64) (*domain.UserRecord, error) {
	const op = "memory.get"

	if err := ctx.Err(); err != nil {
		return nil, domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	return rec.Clone(), nil
}

// Create inserts a zeroed record unless one exists.
func (s *Store) Create(ctx context.Context, userID int64, username string) error {
	const op = "memory.create"

	if err := ctx.Err(); err != nil {
		return domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; ok {
		return nil
	}
	s.users[userID] = domain.NewUserRecord(userID, username, s.now().UTC())
	return nil
}

// ApplyConsumption increments the category counter for onDate.
func (s *Store) ApplyConsumption(ctx context.Context, userID int64, category domain.QuotaCategory, onDate civil.Date) error {
	const op = "memory.apply_consumption"

	if err := ctx.Err(); err != nil {
		return domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	s.users[userID] = entitlement.Apply(rec, entitlement.Mutation{
		UserID:   userID,
		Category: category,
		OnDate:   onDate,
	})
	return nil
}

// GrantSubscription extends the subscription and returns the new expiry.
func (s *Store) GrantSubscription(ctx context.Context, userID int64, days int, today civil.Date) (civil.Date, error) {
	const op = "memory.grant_subscription"

	if err := ctx.Err(); err != nil {
		return civil.Date{}, domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return civil.Date{}, domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	end := entitlement.ExtendSubscription(rec.SubscriptionEnd, today, days)
	rec.SubscriptionEnd = &end
	return end, nil
}

// RecordInteraction appends to the in-memory log.
func (s *Store) RecordInteraction(ctx context.Context, in domain.Interaction) error {
	const op = "memory.record_interaction"

	if err := ctx.Err(); err != nil {
		return domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interactions = append(s.interactions, in)
	return nil
}

// Interactions returns a copy of the log in insertion order.
func (s *Store) Interactions() []domain.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out
}

// Stats counts users, active subscribers and users who consumed today.
func (s *Store) Stats(ctx context.Context, today civil.Date) (domain.UsageStats, error) {
	const op = "memory.stats"

	if err := ctx.Err(); err != nil {
		return domain.UsageStats{}, domain.StorageUnavailable(err, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.UsageStats
	for _, rec := range s.users {
		stats.Users++
		if entitlement.IsSubscriptionActive(rec, today) {
			stats.ActiveSubscriptions++
		}
		for _, u := range rec.Usage {
			if u.Date == today && u.Used > 0 {
				stats.ActiveToday++
				break
			}
		}
	}
	return stats, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
