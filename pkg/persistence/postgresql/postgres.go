// Package postgresql provides a PostgreSQL-backed checkpoint store.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
	"github.com/jurisdesk/lexflow/pkg/persistence/sqlbase"
)

// Persistence implements the checkpoint store on PostgreSQL. The whole
// checkpoint is stored as one JSONB document per instance; the engine always
// writes and reads complete snapshots, so there is no point normalizing the
// history into rows.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS checkpoints (
				instance_id   TEXT PRIMARY KEY,
				workflow_type TEXT NOT NULL,
				entity_id     TEXT NOT NULL,
				tenant_id     TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL,
				document      JSONB NOT NULL,
				created_at    TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at    TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints (status);
			CREATE INDEX IF NOT EXISTS idx_checkpoints_entity ON checkpoints (entity_id);
		`,
	}
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger.With("module", "postgresql_persistence"),
	}, nil
}

func (p *Persistence) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	document, err := json.Marshal(checkpoint)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO checkpoints (instance_id, workflow_type, entity_id, tenant_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		checkpoint.InstanceID,
		checkpoint.WorkflowType,
		checkpoint.EntityID,
		checkpoint.TenantID,
		string(checkpoint.Status),
		document,
		checkpoint.CreatedAt,
		checkpoint.UpdatedAt,
	)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	return nil
}

func (p *Persistence) CheckpointByID(ctx context.Context, instanceID string) (*models.Checkpoint, error) {
	var document []byte

	err := p.db.QueryRowContext(ctx,
		"SELECT document FROM checkpoints WHERE instance_id = $1", instanceID,
	).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewCheckpointError("ByID", instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewCheckpointError("ByID", instanceID, err)
	}

	var checkpoint models.Checkpoint
	if err := json.Unmarshal(document, &checkpoint); err != nil {
		return nil, persistence.NewCheckpointError("ByID", instanceID, fmt.Errorf("decode checkpoint: %w", err))
	}

	return &checkpoint, nil
}

func (p *Persistence) RunningCheckpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT document FROM checkpoints WHERE status = $1 ORDER BY created_at",
		string(models.InstanceStatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query running checkpoints: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.WarnContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	var running []*models.Checkpoint

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}

		var checkpoint models.Checkpoint
		if err := json.Unmarshal(document, &checkpoint); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}

		running = append(running, &checkpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint rows: %w", err)
	}

	return running, nil
}

func (p *Persistence) DeleteCheckpoint(ctx context.Context, instanceID string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE instance_id = $1", instanceID)
	if err != nil {
		return persistence.NewCheckpointError("Delete", instanceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewCheckpointError("Delete", instanceID, err)
	}

	if affected == 0 {
		return persistence.NewCheckpointError("Delete", instanceID, persistence.ErrInstanceNotFound)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
