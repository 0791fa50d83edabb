// Package target writes imported rows to the destination Postgres database
// and manages identities through the auth admin API.
package target

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/johndauphine/tg-migrate/internal/config"
)

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxConns      int32
	TotalConns    int32
	AcquiredConns int32
	IdleConns     int32
}

// String formats the stats for logging.
func (s PoolStats) String() string {
	return fmt.Sprintf("%d/%d connections, %d acquired, %d idle",
		s.TotalConns, s.MaxConns, s.AcquiredConns, s.IdleConns)
}

// Profile is a row of the profiles table keyed by user_id.
type Profile struct {
	UserID    string
	TenantID  string
	Email     string
	FullName  string
	AvatarURL *string
	Role      string
}

// Pool manages a pool of PostgreSQL connections to the destination.
type Pool struct {
	pool     *pgxpool.Pool
	schema   string
	maxConns int
}

// NewPool connects to cfg.DBURL and pings it.
func NewPool(ctx context.Context, cfg config.TargetConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("parsing db url: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns < 1 {
		maxConns = 4
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(maxConns / 4)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool, schema: cfg.Schema, maxConns: maxConns}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Stats returns current connection pool statistics
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
	}
}

// InsertRows inserts rows in one transaction. Either every row is written
// or none is, so callers can retry a failed chunk row by row.
func (p *Pool) InsertRows(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	step := rowsPerStatement(len(cols), len(rows))
	for i := 0; i < len(rows); i += step {
		end := i + step
		if end > len(rows) {
			end = len(rows)
		}
		sql, args := buildInsertSQL(p.schema, table, cols, rows[i:end])
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LookupIDs returns the destination id of each source id present in table
// for the tenant.
func (p *Pool) LookupIDs(ctx context.Context, table, tenantID string, tgIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(tgIDs))
	if len(tgIDs) == 0 {
		return out, nil
	}

	rows, err := p.pool.Query(ctx, buildLookupSQL(p.schema, table), tenantID, tgIDs)
	if err != nil {
		return nil, fmt.Errorf("looking up %s ids: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tgID int64
			id   string
		)
		if err := rows.Scan(&tgID, &id); err != nil {
			return nil, fmt.Errorf("scanning %s id: %w", table, err)
		}
		out[tgID] = id
	}
	return out, rows.Err()
}

// DeleteTenantRows removes every row of the tenant from table.
func (p *Pool) DeleteTenantRows(ctx context.Context, table, tenantID string) (int64, error) {
	tag, err := p.pool.Exec(ctx, buildDeleteTenantSQL(p.schema, table), tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

var profileColumns = []string{"user_id", "tenant_id", "email", "full_name", "avatar_url", "role"}

// UpsertProfile writes a profile, replacing any existing row for the user.
func (p *Pool) UpsertProfile(ctx context.Context, pr Profile) error {
	sql := buildUpsertSQL(p.schema, "profiles", profileColumns, []string{"user_id"})
	_, err := p.pool.Exec(ctx, sql, pr.UserID, pr.TenantID, pr.Email, pr.FullName, pr.AvatarURL, pr.Role)
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", pr.Email, err)
	}
	return nil
}
