package service

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal/metrics"
	"github.com/DukeRupert/askbot/internal/store/memory"
)

func TestNewReporter_InvalidSchedule(t *testing.T) {
	_, err := NewReporter(memory.New(), "not a schedule", nil, testLogger())
	assert.Error(t, err)
}

func TestReporter_Report(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Create(ctx, 1, "a"))
	require.NoError(t, st.Create(ctx, 2, "b"))

	r, err := NewReporter(st, "", time.UTC, testLogger())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }

	_, err = st.GrantSubscription(ctx, 2, 7, civil.Date{Year: 2024, Month: 3, Day: 10})
	require.NoError(t, err)

	stats, err := r.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(1), stats.ActiveSubscriptions)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.UsersTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSubscriptions))
}
