package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/threatradar/threatradar/internal/models"
)

// PostgresIndicatorRepository persists indicator snapshots to PostgreSQL so
// the in-memory store can warm-start across restarts. The memory store
// remains authoritative; this table is overwritten wholesale each cycle.
type PostgresIndicatorRepository struct {
	db *sql.DB
}

// NewPostgresIndicatorRepository creates the repository and ensures the
// snapshot table exists.
func NewPostgresIndicatorRepository(ctx context.Context, db *sql.DB) (*PostgresIndicatorRepository, error) {
	r := &PostgresIndicatorRepository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresIndicatorRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS indicators (
			id           VARCHAR(64) PRIMARY KEY,
			value        TEXT NOT NULL,
			type         VARCHAR(16) NOT NULL,
			threat_level VARCHAR(16) NOT NULL,
			score        INTEGER NOT NULL,
			sources      JSONB NOT NULL,
			first_seen   TIMESTAMPTZ NOT NULL,
			last_seen    TIMESTAMPTZ NOT NULL,
			tags         JSONB NOT NULL,
			description  TEXT,
			correlations JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (type, value)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create indicators table: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the persisted snapshot with the given indicator set
// in a single transaction.
func (r *PostgresIndicatorRepository) SaveSnapshot(ctx context.Context, indicators []models.Indicator) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM indicators"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indicators
			(id, value, type, threat_level, score, sources, first_seen, last_seen,
			 tags, description, correlations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (type, value) DO UPDATE SET
			threat_level = EXCLUDED.threat_level,
			score        = EXCLUDED.score,
			sources      = EXCLUDED.sources,
			first_seen   = EXCLUDED.first_seen,
			last_seen    = EXCLUDED.last_seen,
			tags         = EXCLUDED.tags,
			description  = EXCLUDED.description,
			correlations = EXCLUDED.correlations
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i := range indicators {
		ind := &indicators[i]

		sources, err := json.Marshal(ind.Sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources for %s: %w", ind.ID, err)
		}
		tags, err := json.Marshal(ind.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for %s: %w", ind.ID, err)
		}
		correlations, err := json.Marshal(ind.Correlations)
		if err != nil {
			return fmt.Errorf("failed to marshal correlations for %s: %w", ind.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			ind.ID, ind.Value, string(ind.Type), string(ind.ThreatLevel), ind.Score,
			sources, ind.FirstSeen, ind.LastSeen, tags,
			nullableString(ind.Description), correlations, ind.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert indicator %s: %w", ind.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted indicator set.
func (r *PostgresIndicatorRepository) LoadSnapshot(ctx context.Context) ([]models.Indicator, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, value, type, threat_level, score, sources, first_seen, last_seen,
		       tags, description, correlations, created_at
		FROM indicators
		ORDER BY score DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var out []models.Indicator
	for rows.Next() {
		var ind models.Indicator
		var iocType, level string
		var sources, tags, correlations []byte
		var description sql.NullString

		err := rows.Scan(
			&ind.ID, &ind.Value, &iocType, &level, &ind.Score,
			&sources, &ind.FirstSeen, &ind.LastSeen,
			&tags, &description, &correlations, &ind.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator row: %w", err)
		}

		ind.Type = models.IOCType(iocType)
		ind.ThreatLevel = models.ThreatLevel(level)
		ind.Description = description.String

		if err := json.Unmarshal(sources, &ind.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources for %s: %w", ind.ID, err)
		}
		if err := json.Unmarshal(tags, &ind.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", ind.ID, err)
		}
		if err := json.Unmarshal(correlations, &ind.Correlations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal correlations for %s: %w", ind.ID, err)
		}

		out = append(out, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
