package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

const (
	runsTable       = "consolidation_runs"
	rejectionsTable = "consolidation_rejections"
)

// Schema creates the run log tables.
const Schema = `
CREATE TABLE IF NOT EXISTS consolidation_runs (
	run_id            UUID PRIMARY KEY,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL,
	dry_run           BOOLEAN NOT NULL DEFAULT FALSE,
	identity_bridge   TEXT NOT NULL,
	identity_verified BOOLEAN NOT NULL DEFAULT FALSE,
	customers         INTEGER NOT NULL DEFAULT 0,
	counts            JSONB NOT NULL DEFAULT '{}',
	outputs           JSONB NOT NULL DEFAULT '{}',
	error             TEXT
);

CREATE TABLE IF NOT EXISTS consolidation_rejections (
	run_id    UUID NOT NULL REFERENCES consolidation_runs(run_id) ON DELETE CASCADE,
	source    TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	record_id TEXT NOT NULL,
	status    TEXT,
	value     TEXT,
	reason    TEXT NOT NULL,
	PRIMARY KEY (run_id, source, seq)
);
`

// PostgresRecorder writes the run row and its rejection entries in one
// transaction. Rejections are bulk loaded with COPY.
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the tables if they are missing.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create run log schema: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, s Summary) (err error) {
	counts, err := json.Marshal(s.CountsBySource())
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	outputs := []byte("{}")
	if len(s.Outputs) > 0 {
		if outputs, err = json.Marshal(s.Outputs); err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run log tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+runsTable+` (
			run_id, started_at, finished_at, status, dry_run,
			identity_bridge, identity_verified, customers, counts, outputs, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
		s.RunID, s.StartedAt, s.FinishedAt, s.Status, s.DryRun,
		s.IdentityBridge, s.IdentityVerified, s.Customers, string(counts), string(outputs), s.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", s.RunID, err)
	}

	if len(s.Rejections) > 0 {
		if err = copyRejections(ctx, tx, s); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", s.RunID, err)
	}
	return nil
}

func copyRejections(ctx context.Context, tx *sql.Tx, s Summary) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(rejectionsTable,
		"run_id", "source", "seq", "record_id", "status", "value", "reason"))
	if err != nil {
		return fmt.Errorf("prepare rejection copy: %w", err)
	}
	defer stmt.Close()

	for _, e := range s.Rejections {
		if _, err := stmt.ExecContext(ctx, s.RunID, string(e.Source), e.Seq, e.RecordID, e.Status, e.Value, e.Reason); err != nil {
			return fmt.Errorf("copy rejection %s #%d: %w", e.Source, e.Seq, err)
		}
	}
	// Flush COPY
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush rejection copy: %w", err)
	}
	return nil
}
