package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/domain"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresIndexer upserts enriched offers into a PostgreSQL table
type PostgresIndexer struct {
	db        *sql.DB
	tableName string
	logger    *zap.Logger
}

// NewPostgresIndexer connects, pings and creates the table if needed
func NewPostgresIndexer(ctx context.Context, connStr, table string, logger *zap.Logger) (*PostgresIndexer, error) {
	if !tableName.MatchString(table) {
		return nil, eris.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.L()
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, eris.Wrap(err, "open postgres connection")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ping postgres")
	}

	i := &PostgresIndexer{
		db:        db,
		tableName: table,
		logger:    logger.Named("indexer.postgres"),
	}

	if _, err := db.ExecContext(ctx, createTableSQL(table)); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ensure table")
	}

	return i, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT,
			company TEXT,
			location TEXT,
			contract_type TEXT,
			published DATE,
			hard_skills TEXT[] NOT NULL DEFAULT '{}',
			soft_skills TEXT[] NOT NULL DEFAULT '{}',
			years_experience_min INTEGER,
			domains TEXT[] NOT NULL DEFAULT '{}',
			source TEXT,
			run_id TEXT,
			outcome TEXT,
			crawled_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			id, url, title, company, location, contract_type, published,
			hard_skills, soft_skills, years_experience_min, domains,
			source, run_id, outcome, crawled_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			contract_type = EXCLUDED.contract_type,
			published = EXCLUDED.published,
			hard_skills = EXCLUDED.hard_skills,
			soft_skills = EXCLUDED.soft_skills,
			years_experience_min = EXCLUDED.years_experience_min,
			domains = EXCLUDED.domains,
			source = EXCLUDED.source,
			run_id = EXCLUDED.run_id,
			outcome = EXCLUDED.outcome,
			crawled_at = EXCLUDED.crawled_at,
			updated_at = NOW()
	`, table)
}

// offerArgs returns the upsert parameters for one offer, in column order
func offerArgs(o domain.EnrichedOffer) []any {
	return []any{
		o.ID(), o.DetailURL, nullString(o.Title), nullString(o.Company), nullString(o.Location),
		nullString(o.ContractType), o.Published,
		pq.Array(nonNil(o.HardSkills)), pq.Array(nonNil(o.SoftSkills)), o.MinYearsExperience, pq.Array(nonNil(o.Domains)),
		string(o.Source), o.RunID, string(o.Outcome), o.CrawledAt,
	}
}

// BulkIndex upserts offers in one transaction. A failing row is logged and skipped.
func (i *PostgresIndexer) BulkIndex(ctx context.Context, offers []domain.EnrichedOffer) error {
	if len(offers) == 0 {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(i.tableName))
	if err != nil {
		return eris.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	for _, o := range offers {
		// A failed statement aborts the transaction unless rolled back to a savepoint
		if _, err := tx.ExecContext(ctx, "SAVEPOINT offer"); err != nil {
			return eris.Wrap(err, "savepoint")
		}
		if _, err := stmt.ExecContext(ctx, offerArgs(o)...); err != nil {
			i.logger.Error("index offer failed", zap.String("url", o.DetailURL), zap.Error(err))
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT offer"); err != nil {
				return eris.Wrap(err, "rollback to savepoint")
			}
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit transaction")
	}

	return nil
}

// Close closes the database connection
func (i *PostgresIndexer) Close() error {
	return i.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
