// Package persistence provides the durable checkpoint store abstraction for
// workflow instances.
package persistence

import (
	"context"

	"github.com/jurisdesk/lexflow/pkg/models"
)

// Persistence is the durable instance store accessed only by the executor.
// SaveCheckpoint must make the full instance state durable before returning:
// the engine calls it after every transition and only then lets the logical
// thread proceed.
type Persistence interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	CheckpointByID(ctx context.Context, instanceID string) (*models.Checkpoint, error)
	RunningCheckpoints(ctx context.Context) ([]*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, instanceID string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
