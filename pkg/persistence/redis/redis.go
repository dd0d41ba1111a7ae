// Package redis provides a Redis-backed checkpoint store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
)

const checkpointKeyPrefix = "lexflow:checkpoint:"
const runningSetKey = "lexflow:running"

// Persistence implements persistence.Persistence on Redis. Each checkpoint
// lives under its own key; a set tracks the ids of running instances so the
// worker can restore them without scanning the keyspace.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client: client,
		logger: logger.With("module", "redis_persistence"),
	}, nil
}

func checkpointKey(instanceID string) string {
	return checkpointKeyPrefix + instanceID
}

func (p *Persistence) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(checkpoint.InstanceID), data, 0)

	if checkpoint.Status == models.InstanceStatusRunning {
		pipe.SAdd(ctx, runningSetKey, checkpoint.InstanceID)
	} else {
		pipe.SRem(ctx, runningSetKey, checkpoint.InstanceID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	return nil
}

func (p *Persistence) CheckpointByID(ctx context.Context, instanceID string) (*models.Checkpoint, error) {
	data, err := p.client.Get(ctx, checkpointKey(instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewCheckpointError("ByID", instanceID, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewCheckpointError("ByID", instanceID, err)
	}

	var checkpoint models.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, persistence.NewCheckpointError("ByID", instanceID, fmt.Errorf("decode checkpoint: %w", err))
	}

	return &checkpoint, nil
}

func (p *Persistence) RunningCheckpoints(ctx context.Context) ([]*models.Checkpoint, error) {
	ids, err := p.client.SMembers(ctx, runningSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list running instances: %w", err)
	}

	running := make([]*models.Checkpoint, 0, len(ids))

	for _, id := range ids {
		checkpoint, err := p.CheckpointByID(ctx, id)
		if err != nil {
			// A dangling set member means the key expired or was deleted
			// out-of-band; skip it rather than failing the restore.
			if persistence.IsInstanceNotFound(err) {
				p.logger.WarnContext(ctx, "Dropping dangling running-set member", "instance_id", id)
				p.client.SRem(ctx, runningSetKey, id)

				continue
			}

			return nil, err
		}

		running = append(running, checkpoint)
	}

	return running, nil
}

func (p *Persistence) DeleteCheckpoint(ctx context.Context, instanceID string) error {
	pipe := p.client.TxPipeline()
	deleted := pipe.Del(ctx, checkpointKey(instanceID))
	pipe.SRem(ctx, runningSetKey, instanceID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewCheckpointError("Delete", instanceID, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewCheckpointError("Delete", instanceID, persistence.ErrInstanceNotFound)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}
