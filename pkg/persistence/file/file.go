// Package file provides a file-backed checkpoint store, used for local
// development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jurisdesk/lexflow/pkg/models"
	"github.com/jurisdesk/lexflow/pkg/persistence"
)

const checkpointDirPerm = 0o755
const checkpointFilePerm = 0o644

// Persistence implements persistence.Persistence on the local file system.
// One JSON file per instance; writes go through a temp file rename so a
// crash mid-write never leaves a truncated checkpoint behind.
type Persistence struct {
	root string
	mu   sync.Mutex
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (p *Persistence) checkpointDir() string {
	return filepath.Join(p.root, "checkpoints")
}

func (p *Persistence) checkpointPath(instanceID string) string {
	return filepath.Join(p.checkpointDir(), instanceID+".json")
}

func (p *Persistence) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.checkpointDir(), checkpointDirPerm); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	target := p.checkpointPath(checkpoint.InstanceID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, checkpointFilePerm); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.InstanceID, err)
	}

	return nil
}

func (p *Persistence) CheckpointByID(_ context.Context, instanceID string) (*models.Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.readCheckpoint(instanceID)
}

func (p *Persistence) readCheckpoint(instanceID string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(p.checkpointPath(instanceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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

func (p *Persistence) RunningCheckpoints(_ context.Context) ([]*models.Checkpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := os.DirFS(p.checkpointDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint files: %w", err)
	}

	running := make([]*models.Checkpoint, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		instanceID := strings.TrimSuffix(file, ".json")

		checkpoint, err := p.readCheckpoint(instanceID)
		if err != nil {
			return nil, err
		}

		if checkpoint.Status == models.InstanceStatusRunning {
			running = append(running, checkpoint)
		}
	}

	return running, nil
}

func (p *Persistence) DeleteCheckpoint(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.checkpointPath(instanceID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.NewCheckpointError("Delete", instanceID, persistence.ErrInstanceNotFound)
		}

		return persistence.NewCheckpointError("Delete", instanceID, err)
	}

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
