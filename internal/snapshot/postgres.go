package snapshot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuckkiez/consent-dashboard/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresStore connects to the snapshot database and ensures the schema
// exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool: pool,
		log:  logging.Component("snapshot-store"),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.log.Info("connected to snapshot database")
	return s, nil
}

const snapshotColumns = `
	date, total_consents, privacy_policy_consents, marketing_consents,
	marketing_consent_percentage, f1_channel_consents, kp_channel_consents,
	gwl_channel_consents, dropoff_count, dropoff_percentage, new_users,
	created_at
`

// Upsert writes the snapshot in a single statement; an existing row for the
// same date is replaced in full.
func (s *PostgresStore) Upsert(ctx context.Context, snap Snapshot) error {
	day, err := ParseDate(snap.Date)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO consent_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (date)
		DO UPDATE SET
			total_consents = EXCLUDED.total_consents,
			privacy_policy_consents = EXCLUDED.privacy_policy_consents,
			marketing_consents = EXCLUDED.marketing_consents,
			marketing_consent_percentage = EXCLUDED.marketing_consent_percentage,
			f1_channel_consents = EXCLUDED.f1_channel_consents,
			kp_channel_consents = EXCLUDED.kp_channel_consents,
			gwl_channel_consents = EXCLUDED.gwl_channel_consents,
			dropoff_count = EXCLUDED.dropoff_count,
			dropoff_percentage = EXCLUDED.dropoff_percentage,
			new_users = EXCLUDED.new_users,
			created_at = EXCLUDED.created_at
	`

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, query,
		day,
		snap.TotalConsents,
		snap.PrivacyPolicyConsents,
		snap.MarketingConsents,
		snap.MarketingConsentPercentage,
		snap.F1ChannelConsents,
		snap.KPChannelConsents,
		snap.GWLChannelConsents,
		snap.DropoffCount,
		snap.DropoffPercentage,
		snap.NewUsers,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Date, err)
	}

	s.log.Debug("snapshot upserted", "date", snap.Date)
	return nil
}

// Get returns the snapshot for a date, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, date string) (Snapshot, error) {
	day, err := ParseDate(date)
	if err != nil {
		return Snapshot{}, err
	}

	query := `SELECT ` + snapshotColumns + ` FROM consent_snapshots WHERE date = $1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", date, err)
	}
	return snap, nil
}

// GetRange returns snapshots in [start, end], newest first.
func (s *PostgresStore) GetRange(ctx context.Context, start, end string) ([]Snapshot, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM consent_snapshots
		WHERE date BETWEEN $1 AND $2
		ORDER BY date DESC
	`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query range %s..%s: %w", start, end, err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// MissingDates enumerates calendar dates in [start, end] with no stored row.
func (s *PostgresStore) MissingDates(ctx context.Context, start, end string) ([]string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT d::date
		FROM generate_series($1::date, $2::date, interval '1 day') AS d
		LEFT JOIN consent_snapshots s ON s.date = d::date
		WHERE s.date IS NULL
		ORDER BY d
	`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query missing dates: %w", err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan missing date: %w", err)
		}
		missing = append(missing, day.Format(DateLayout))
	}
	return missing, rows.Err()
}

// All returns every stored snapshot, newest first.
func (s *PostgresStore) All(ctx context.Context) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM consent_snapshots ORDER BY date DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all snapshots: %w", err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectSnapshots(rows pgx.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap Snapshot
		day  time.Time
	)
	err := row.Scan(
		&day,
		&snap.TotalConsents,
		&snap.PrivacyPolicyConsents,
		&snap.MarketingConsents,
		&snap.MarketingConsentPercentage,
		&snap.F1ChannelConsents,
		&snap.KPChannelConsents,
		&snap.GWLChannelConsents,
		&snap.DropoffCount,
		&snap.DropoffPercentage,
		&snap.NewUsers,
		&snap.CreatedAt,
	)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Date = day.Format(DateLayout)
	return snap, nil
}
