// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/store"
)

// Today is the fixed calendar date used by the shared tests.
var Today = civil.Date{Year: 2024, Month: time.March, Day: 10}

// Run executes the shared behaviour tests. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("GetAbsent", func(t *testing.T) { testGetAbsent(t, newStore(t)) })
	t.Run("CreateIdempotent", func(t *testing.T) { testCreateIdempotent(t, newStore(t)) })
	t.Run("ApplyConsumption", func(t *testing.T) { testApplyConsumption(t, newStore(t)) })
	t.Run("ApplyConsumptionCategories", func(t *testing.T) { testApplyConsumptionCategories(t, newStore(t)) })
	t.Run("ApplyConsumptionConcurrent", func(t *testing.T) { testApplyConsumptionConcurrent(t, newStore(t)) })
	t.Run("GrantSubscriptionStacks", func(t *testing.T) { testGrantSubscriptionStacks(t, newStore(t)) })
	t.Run("GrantSubscriptionAfterLapse", func(t *testing.T) { testGrantSubscriptionAfterLapse(t, newStore(t)) })
	t.Run("GrantSubscriptionAbsent", func(t *testing.T) { testGrantSubscriptionAbsent(t, newStore(t)) })
	t.Run("RecordInteraction", func(t *testing.T) { testRecordInteraction(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

func testGetAbsent(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func testCreateIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, 7, "alice"))
	require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, Today))
	require.NoError(t, s.Create(ctx, 7, "alice-renamed"))

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.UserID)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, domain.DailyUsage{Used: 1, Date: Today}, rec.UsageFor(domain.QuotaCategoryText))
	assert.Nil(t, rec.SubscriptionEnd)
	assert.False(t, rec.CreatedAt.IsZero())
}

func testApplyConsumption(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	yesterday := Today.AddDays(-1)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, yesterday))
	}
	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.DailyUsage{Used: 3, Date: yesterday}, rec.UsageFor(domain.QuotaCategoryText))

	require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, Today))
	rec, err = s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.DailyUsage{Used: 1, Date: Today}, rec.UsageFor(domain.QuotaCategoryText))
}

func testApplyConsumptionCategories(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, Today))
	require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, Today))
	require.NoError(t, s.ApplyConsumption(ctx, 7, domain.QuotaCategoryImage, Today))

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.UsageFor(domain.QuotaCategoryText).Used)
	assert.Equal(t, 1, rec.UsageFor(domain.QuotaCategoryImage).Used)
}

func testApplyConsumptionConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.ApplyConsumption(ctx, 7, domain.QuotaCategoryText, Today)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, n, rec.UsageFor(domain.QuotaCategoryText).Used)
}

func testGrantSubscriptionStacks(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	end, err := s.GrantSubscription(ctx, 7, 7, Today)
	require.NoError(t, err)
	assert.Equal(t, Today.AddDays(7), end)

	end, err = s.GrantSubscription(ctx, 7, 30, Today)
	require.NoError(t, err)
	assert.Equal(t, Today.AddDays(37), end)

	rec, err := s.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, rec.SubscriptionEnd)
	assert.Equal(t, Today.AddDays(37), *rec.SubscriptionEnd)
}

func testGrantSubscriptionAfterLapse(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	_, err := s.GrantSubscription(ctx, 7, 7, Today.AddDays(-30))
	require.NoError(t, err)

	end, err := s.GrantSubscription(ctx, 7, 7, Today)
	require.NoError(t, err)
	assert.Equal(t, Today.AddDays(7), end)
}

func testGrantSubscriptionAbsent(t *testing.T, s store.Store) {
	_, err := s.GrantSubscription(context.Background(), 99, 7, Today)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func testRecordInteraction(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, 7, "alice"))

	meta, err := json.Marshal(domain.InteractionMetadata{Model: "mock", InputTokens: 3, OutputTokens: 5})
	require.NoError(t, err)

	require.NoError(t, s.RecordInteraction(ctx, domain.Interaction{
		ID:           uuid.New(),
		UserID:       7,
		Kind:         domain.RequestKindText,
		RequestText:  "hello",
		ResponseText: "hi",
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, s.RecordInteraction(ctx, domain.Interaction{
		ID:        uuid.New(),
		UserID:    7,
		Kind:      domain.RequestKindImage,
		CreatedAt: time.Now().UTC(),
	}))
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.Create(ctx, id, ""))
	}
	require.NoError(t, s.ApplyConsumption(ctx, 1, domain.QuotaCategoryText, Today))
	require.NoError(t, s.ApplyConsumption(ctx, 2, domain.QuotaCategoryText, Today.AddDays(-1)))
	_, err := s.GrantSubscription(ctx, 3, 7, Today)
	require.NoError(t, err)

	stats, err := s.Stats(ctx, Today)
	require.NoError(t, err)
	assert.Equal(t, domain.UsageStats{Users: 3, ActiveSubscriptions: 1, ActiveToday: 1}, stats)
}
