// Package sqlstore implements store.Store over database/sql.
//
// Two dialects are supported: PostgreSQL through the pgx stdlib driver and
// SQLite through modernc.org/sqlite. Calendar dates are stored as ISO
// YYYY-MM-DD text in both.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"
	_ "modernc.org/sqlite"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/entitlement"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is a SQL-backed entitlement store.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the database. For SQLite, dsn is a file path; pragmas for
// WAL, busy timeout and foreign keys are appended and the pool is limited to
// one connection so transactions serialize.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return New(db, driver, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		driver: driver,
		logger: logger,
		now:    time.Now,
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.driver }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row-locking suffix for the dialect. SQLite has no
// row locks; the single-connection pool serializes transactions instead.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Get loads the user row and its usage counters.
func (s *Store) Get(ctx context.Context, userID int64) (*domain.UserRecord, error) {
	const op = "sqlstore.get"

	var (
		username  string
		subEnd    sql.NullString
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, subscription_end, created_at FROM users WHERE user_id = ?`),
		userID,
	).Scan(&username, &subEnd, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	if err != nil {
		return nil, domain.StorageUnavailable(err, op)
	}

	rec := domain.NewUserRecord(userID, username, createdAt)
	if subEnd.Valid {
		end := s.parseDate(subEnd.String, userID, "subscription_end")
		rec.SubscriptionEnd = &end
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT category, used, last_date FROM usage_counters WHERE user_id = ?`),
		userID,
	)
	if err != nil {
		return nil, domain.StorageUnavailable(err, op)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			used     int
			lastDate string
		)
		if err := rows.Scan(&category, &used, &lastDate); err != nil {
			return nil, domain.StorageUnavailable(err, op)
		}
		rec.Usage[domain.QuotaCategory(category)] = domain.DailyUsage{
			Used: used,
			Date: s.parseDate(lastDate, userID, "last_date"),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageUnavailable(err, op)
	}

	return rec, nil
}

// parseDate returns the zero (invalid) date for unparseable values so they
// never grant access and never match today.
func (s *Store) parseDate(v string, userID int64, column string) civil.Date {
	d, err := civil.ParseDate(v)
	if err != nil {
		s.logger.Warn("unparseable stored date",
			"user_id", userID,
			"column", column,
			"value", v,
			"error", err,
		)
		return civil.Date{}
	}
	return d
}

// Create inserts a zeroed record; an existing row is left untouched.
func (s *Store) Create(ctx context.Context, userID int64, username string) error {
	const op = "sqlstore.create"

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (user_id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`),
		userID, username, s.now().UTC(),
	)
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}
	return nil
}

// ApplyConsumption upserts the counter in one statement: a different stored
// date resets it to 1, the same date increments it.
func (s *Store) ApplyConsumption(ctx context.Context, userID int64, category domain.QuotaCategory, onDate civil.Date) error {
	const op = "sqlstore.apply_consumption"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM users WHERE user_id = ?`), userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO usage_counters (user_id, category, used, last_date) VALUES (?, ?, 1, ?)
		 ON CONFLICT (user_id, category) DO UPDATE SET
			used = CASE WHEN usage_counters.last_date = excluded.last_date
				THEN usage_counters.used + 1 ELSE 1 END,
			last_date = excluded.last_date`),
		userID, string(category), onDate.String(),
	)
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageUnavailable(err, op)
	}
	return nil
}

// GrantSubscription locks the user row, extends the expiry and returns it.
func (s *Store) GrantSubscription(ctx context.Context, userID int64, days int, today civil.Date) (civil.Date, error) {
	const op = "sqlstore.grant_subscription"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return civil.Date{}, domain.StorageUnavailable(err, op)
	}
	defer tx.Rollback()

	var subEnd sql.NullString
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT subscription_end FROM users WHERE user_id = ?`+s.forUpdate()),
		userID,
	).Scan(&subEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return civil.Date{}, domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
	}
	if err != nil {
		return civil.Date{}, domain.StorageUnavailable(err, op)
	}

	var current *civil.Date
	if subEnd.Valid {
		d := s.parseDate(subEnd.String, userID, "subscription_end")
		current = &d
	}
	end := entitlement.ExtendSubscription(current, today, days)

	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE users SET subscription_end = ? WHERE user_id = ?`),
		end.String(), userID,
	)
	if err != nil {
		return civil.Date{}, domain.StorageUnavailable(err, op)
	}

	if err := tx.Commit(); err != nil {
		return civil.Date{}, domain.StorageUnavailable(err, op)
	}
	return end, nil
}

// RecordInteraction appends an interaction row.
func (s *Store) RecordInteraction(ctx context.Context, in domain.Interaction) error {
	const op = "sqlstore.record_interaction"

	metadata := pqtype.NullRawMessage{
		RawMessage: in.Metadata,
		Valid:      len(in.Metadata) > 0,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO interactions
			(id, user_id, kind, request_text, response_text, attachment_key, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		in.ID.String(), in.UserID, string(in.Kind), in.RequestText, in.ResponseText,
		in.AttachmentKey, metadata, in.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}
	return nil
}

// Stats aggregates user, subscriber and daily activity counts.
func (s *Store) Stats(ctx context.Context, today civil.Date) (domain.UsageStats, error) {
	const op = "sqlstore.stats"

	var stats domain.UsageStats
	day := today.String()

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE subscription_end >= ? AND subscription_end LIKE '____-__-__'),
			(SELECT COUNT(DISTINCT user_id) FROM usage_counters WHERE last_date = ? AND used > 0)`),
		day, day,
	).Scan(&stats.Users, &stats.ActiveSubscriptions, &stats.ActiveToday)
	if err != nil {
		return domain.UsageStats{}, domain.StorageUnavailable(err, op)
	}
	return stats, nil
}
