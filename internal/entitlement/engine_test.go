package entitlement

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal/domain"
)

var today = civil.Date{Year: 2024, Month: time.March, Day: 10}

func datePtr(d civil.Date) *civil.Date { return &d }

func record(used int, date civil.Date, end *civil.Date) *domain.UserRecord {
	rec := domain.NewUserRecord(42, "alice", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !date.IsZero() {
		rec.Usage[domain.QuotaCategoryText] = domain.DailyUsage{Used: used, Date: date}
	}
	rec.SubscriptionEnd = end
	return rec
}

func TestIsSubscriptionActive(t *testing.T) {
	tests := []struct {
		name string
		end  *civil.Date
		want bool
	}{
		{name: "never purchased", end: nil, want: false},
		{name: "ends today", end: datePtr(today), want: true},
		{name: "ends tomorrow", end: datePtr(today.AddDays(1)), want: true},
		{name: "ended yesterday", end: datePtr(today.AddDays(-1)), want: false},
		{name: "unparseable", end: datePtr(civil.Date{Year: 2024, Month: 2, Day: 31}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSubscriptionActive(record(0, civil.Date{}, tt.end), today))
		})
	}

	assert.False(t, IsSubscriptionActive(nil, today))
}

func TestMeter_FreeTier(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)

	tests := []struct {
		name          string
		rec           *domain.UserRecord
		wantConsume   bool
		wantRemaining int
	}{
		{name: "fresh record", rec: record(0, civil.Date{}, nil), wantConsume: true, wantRemaining: 20},
		{name: "partially used today", rec: record(5, today, nil), wantConsume: true, wantRemaining: 15},
		{name: "one left", rec: record(19, today, nil), wantConsume: true, wantRemaining: 1},
		{name: "exhausted today", rec: record(20, today, nil), wantConsume: false, wantRemaining: 0},
		{name: "over limit clamps", rec: record(25, today, nil), wantConsume: false, wantRemaining: 0},
		{name: "used yesterday resets", rec: record(20, today.AddDays(-1), nil), wantConsume: true, wantRemaining: 20},
		{name: "expired subscription is free tier", rec: record(20, today, datePtr(today.AddDays(-1))), wantConsume: false, wantRemaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantConsume, m.CanConsume(tt.rec, today))
			r := m.RemainingQuota(tt.rec, today)
			require.False(t, r.IsUnbounded())
			assert.Equal(t, tt.wantRemaining, r.Count())
		})
	}
}

func TestMeter_SubscriptionOverridesUsage(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)
	rec := record(20, today, datePtr(today))

	assert.True(t, m.CanConsume(rec, today))
	assert.True(t, m.RemainingQuota(rec, today).IsUnbounded())

	d := m.Decide(rec, today)
	assert.True(t, d.Allowed)
	assert.True(t, d.Remaining.IsUnbounded())
	assert.Nil(t, d.Mutation)
	assert.True(t, d.RemainingAfter().IsUnbounded())
}

func TestMeter_NilRecord(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)
	assert.False(t, m.CanConsume(nil, today))

	d := m.Decide(nil, today)
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Mutation)
}

func TestMeter_Decide(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)

	d := m.Decide(record(3, today, nil), today)
	require.True(t, d.Allowed)
	require.NotNil(t, d.Mutation)
	assert.Equal(t, Mutation{UserID: 42, Category: domain.QuotaCategoryText, OnDate: today}, *d.Mutation)
	assert.Equal(t, 17, d.Remaining.Count())
	assert.Equal(t, 16, d.RemainingAfter().Count())

	denied := m.Decide(record(20, today, nil), today)
	assert.False(t, denied.Allowed)
	assert.Nil(t, denied.Mutation)
	assert.Equal(t, 0, denied.RemainingAfter().Count())
}

// New user, limit 20: twenty requests succeed, the twenty-first is denied.
func TestScenario_ExhaustFreeTier(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)
	rec := record(0, civil.Date{}, nil)

	for i := 0; i < 20; i++ {
		d := m.Decide(rec, today)
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 20-i, d.Remaining.Count())
		rec = Apply(rec, *d.Mutation)
	}

	assert.Equal(t, 0, m.RemainingQuota(rec, today).Count())
	assert.False(t, m.CanConsume(rec, today))
	assert.Equal(t, 20, rec.Usage[domain.QuotaCategoryText].Used)
}

// Exhausted yesterday: today starts fresh and the first consumption resets the
// stored counter to 1.
func TestScenario_NextDayReset(t *testing.T) {
	m := NewMeter(domain.QuotaCategoryText, 20)
	rec := record(20, today.AddDays(-1), nil)

	d := m.Decide(rec, today)
	require.True(t, d.Allowed)
	assert.Equal(t, 20, d.Remaining.Count())

	rec = Apply(rec, *d.Mutation)
	assert.Equal(t, domain.DailyUsage{Used: 1, Date: today}, rec.Usage[domain.QuotaCategoryText])
}

// Stacking: a 7-day purchase followed immediately by a 30-day purchase ends
// 37 days from today.
func TestScenario_StackingPurchases(t *testing.T) {
	end := ExtendSubscription(nil, today, 7)
	assert.Equal(t, today.AddDays(7), end)

	end = ExtendSubscription(&end, today, 30)
	assert.Equal(t, today.AddDays(37), end)
}

func TestExtendSubscription(t *testing.T) {
	tests := []struct {
		name    string
		current *civil.Date
		days    int
		want    civil.Date
	}{
		{name: "first purchase", current: nil, days: 30, want: today.AddDays(30)},
		{name: "lapsed restarts from today", current: datePtr(today.AddDays(-10)), days: 7, want: today.AddDays(7)},
		{name: "ends today extends from today", current: datePtr(today), days: 7, want: today.AddDays(7)},
		{name: "active extends from expiry", current: datePtr(today.AddDays(5)), days: 7, want: today.AddDays(12)},
		{name: "invalid treated as absent", current: datePtr(civil.Date{Year: 2024, Month: 13, Day: 1}), days: 7, want: today.AddDays(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtendSubscription(tt.current, today, tt.days))
		})
	}
}

func TestEngine_Meter(t *testing.T) {
	e := New(domain.DefaultQuotaPolicy())
	text := e.Meter(domain.RequestKindText)
	image := e.Meter(domain.RequestKindImage)
	assert.Equal(t, domain.QuotaCategoryText, text.Category())
	assert.Equal(t, domain.QuotaCategoryText, image.Category())
	assert.Equal(t, 20, image.Limit())

	separate := New(domain.QuotaPolicy{
		Limits: map[domain.QuotaCategory]int{domain.QuotaCategoryText: 20, domain.QuotaCategoryImage: 5},
		Categories: map[domain.RequestKind]domain.QuotaCategory{
			domain.RequestKindText:  domain.QuotaCategoryText,
			domain.RequestKindImage: domain.QuotaCategoryImage,
		},
	})
	image = separate.Meter(domain.RequestKindImage)
	assert.Equal(t, domain.QuotaCategoryImage, image.Category())
	assert.Equal(t, 5, image.Limit())

	// Exhausting text does not affect a separate image category.
	rec := record(20, today, nil)
	assert.False(t, separate.Meter(domain.RequestKindText).CanConsume(rec, today))
	assert.True(t, image.CanConsume(rec, today))
	assert.Equal(t, 5, image.RemainingQuota(rec, today).Count())
}
