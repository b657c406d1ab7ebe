// Package postgres provides Postgres-backed storage implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsloom/scraper/internal/engine"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// pgxPool is the subset of pgxpool.Pool the stores use; pgxmock implements
// it for tests.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArticleStore writes article rows into Postgres. Uniqueness on
// (source_id, source_url) is enforced by the schema; conflicting inserts are
// reported as duplicates, never as errors.
type ArticleStore struct {
	pool pgxPool
}

// NewArticleStore constructs an ArticleStore on an existing pool.
func NewArticleStore(pool pgxPool) *ArticleStore {
	return &ArticleStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const insertArticleSQL = `
INSERT INTO articles (
	id,
	job_id,
	source_id,
	source_url,
	title,
	content,
	author,
	publication_date,
	content_hash,
	tracking_id,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (source_id, source_url) DO NOTHING`

// InsertArticles writes a batch inside one transaction, one savepoint per
// row, so a bad row is rolled back alone and the rest of the batch still
// commits.
func (s *ArticleStore) InsertArticles(ctx context.Context, articles []engine.PersistedArticle) ([]engine.InsertOutcome, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin article batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcomes := make([]engine.InsertOutcome, len(articles))
	for i, article := range articles {
		outcomes[i] = s.insertOne(ctx, tx, article)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit article batch: %w", err)
	}
	return outcomes, nil
}

func (s *ArticleStore) insertOne(ctx context.Context, tx pgx.Tx, article engine.PersistedArticle) engine.InsertOutcome {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return engine.InsertOutcome{Status: engine.InsertFailed, Err: err.Error()}
	}
	tag, err := sp.Exec(ctx, insertArticleSQL,
		article.ID,
		article.JobID,
		article.SourceID,
		article.SourceURL,
		article.Title,
		article.Content,
		article.Author,
		article.PublicationDate,
		article.ContentHash,
		article.TrackingID,
		article.CreatedAt,
	)
	if err != nil {
		_ = sp.Rollback(ctx)
		return engine.InsertOutcome{Status: engine.InsertFailed, Err: err.Error()}
	}
	if err := sp.Commit(ctx); err != nil {
		return engine.InsertOutcome{Status: engine.InsertFailed, Err: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return engine.InsertOutcome{Status: engine.InsertDuplicate}
	}
	return engine.InsertOutcome{Status: engine.InsertSaved}
}

// CountBySource counts persisted rows for a job and source.
func (s *ArticleStore) CountBySource(ctx context.Context, jobID, sourceID string) (int, error) {
	query := `SELECT COUNT(*) FROM articles WHERE job_id = $1 AND source_id = $2`
	var count int
	if err := s.pool.QueryRow(ctx, query, jobID, sourceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

// ListIDsBySource returns up to limit row IDs for a job and source in
// insertion order.
func (s *ArticleStore) ListIDsBySource(ctx context.Context, jobID, sourceID string, limit int) ([]string, error) {
	query := `
		SELECT id FROM articles
		WHERE job_id = $1 AND source_id = $2
		ORDER BY created_at
		LIMIT $3`
	rows, err := s.pool.Query(ctx, query, jobID, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list article ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan article id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
