package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal"
	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/store"
	"github.com/DukeRupert/askbot/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "askbot.db")

	s, err := Open(context.Background(), DriverSQLite, path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, internal.RunMigrations(s.DB(), DriverSQLite))
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestStore_UnparseableSubscriptionEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, 5, "carol"))

	_, err := s.DB().ExecContext(ctx, `UPDATE users SET subscription_end = 'not-a-date' WHERE user_id = 5`)
	require.NoError(t, err)

	rec, err := s.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, rec.SubscriptionEnd)
	assert.False(t, rec.SubscriptionEnd.IsValid())

	// A purchase over a corrupt value starts from today.
	end, err := s.GrantSubscription(ctx, 5, 7, storetest.Today)
	require.NoError(t, err)
	assert.Equal(t, storetest.Today.AddDays(7), end)
}

func TestStore_ApplyConsumptionAbsent(t *testing.T) {
	err := newTestStore(t).ApplyConsumption(context.Background(), 404, domain.QuotaCategoryText, storetest.Today)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestStore_ClosedDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, domain.ESTORAGE, domain.ErrorCode(err))
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	lite := &Store{driver: DriverSQLite}

	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
	assert.Equal(t, " FOR UPDATE", pg.forUpdate())
	assert.Equal(t, "", lite.forUpdate())
}
