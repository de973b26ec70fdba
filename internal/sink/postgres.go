package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	uuidgen "github.com/JakeFAU/ershoufang-crawler/internal/id/uuid"
	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

const defaultTable = "listings"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool and target table.
type PostgresConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres upserts records into a table keyed by listing id.
type Postgres struct {
	pool  txPool
	table string
	runID string
	keys  uuidgen.Generator
}

// NewPostgres connects and ensures the table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresWithPool(pool, cfg.Table, cfg.RunID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresWithPool constructs a sink from an existing pool (primarily for testing).
func NewPostgresWithPool(pool txPool, table, runID string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table, runID: runID, keys: uuidgen.New()}, nil
}

// EnsureSchema creates the listings table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	listing_id     TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	title          TEXT NOT NULL,
	detail_link    TEXT NOT NULL,
	community_name TEXT NOT NULL,
	district       TEXT NOT NULL,
	layout         TEXT NOT NULL,
	area           TEXT NOT NULL,
	orientation    TEXT NOT NULL,
	decoration     TEXT NOT NULL,
	floor          TEXT NOT NULL,
	building_info  TEXT NOT NULL,
	follow_info    TEXT NOT NULL,
	tags           TEXT[] NOT NULL,
	total_price    TEXT NOT NULL,
	unit_price     TEXT NOT NULL,
	scraped_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// WriteAll upserts the batch in one transaction. Records without a listing id
// are stored under a generated key.
func (s *Postgres) WriteAll(ctx context.Context, records []listing.Record, _ []string) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	listing_id, run_id, title, detail_link, community_name, district,
	layout, area, orientation, decoration, floor, building_info,
	follow_info, tags, total_price, unit_price
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (listing_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	title = EXCLUDED.title,
	detail_link = EXCLUDED.detail_link,
	community_name = EXCLUDED.community_name,
	district = EXCLUDED.district,
	layout = EXCLUDED.layout,
	area = EXCLUDED.area,
	orientation = EXCLUDED.orientation,
	decoration = EXCLUDED.decoration,
	floor = EXCLUDED.floor,
	building_info = EXCLUDED.building_info,
	follow_info = EXCLUDED.follow_info,
	tags = EXCLUDED.tags,
	total_price = EXCLUDED.total_price,
	unit_price = EXCLUDED.unit_price,
	scraped_at = NOW()`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	for i, rec := range records {
		key, keyErr := s.keys.RowKey(rec.ListingID)
		if keyErr != nil {
			return fmt.Errorf("row key for record %d: %w", i, keyErr)
		}
		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}
		if _, err = tx.Exec(ctx, query,
			key,
			s.runID,
			rec.Title,
			rec.DetailLink,
			rec.CommunityName,
			rec.District,
			rec.Layout,
			rec.Area,
			rec.Orientation,
			rec.Decoration,
			rec.Floor,
			rec.BuildingInfo,
			rec.FollowInfo,
			tags,
			rec.TotalPrice,
			rec.UnitPrice,
		); err != nil {
			return fmt.Errorf("upsert listing %q: %w", key, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
