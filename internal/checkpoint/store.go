// Package checkpoint persists per-project pipeline state so that runs
// survive process restarts. The Store interface is storage-agnostic;
// the SQLite backend is the default and an in-memory backend backs
// tests and throwaway runs.
package checkpoint

import (
	"errors"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
)

// ErrNotFound is returned when no checkpoint exists for a project
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the durable record for one project: its furthest
// confirmed stage, the attempt counter for the current stage, and the
// artifacts produced so far. Owned exclusively by the stage executor.
type Checkpoint struct {
	ProjectID  string
	Name       string
	Content    string
	Stage      domain.Stage
	PausedFrom domain.Stage
	Attempt    int
	BatchID    string
	Settings   domain.Settings
	Artifacts  map[domain.ArtifactKind]string
	LastError  *domain.StageError
	UpdatedAt  time.Time
}

// FromProject snapshots a project into a checkpoint
func FromProject(p *domain.Project, attempt int) *Checkpoint {
	arts := make(map[domain.ArtifactKind]string, len(p.Artifacts))
	for k, v := range p.Artifacts {
		arts[k] = v
	}
	return &Checkpoint{
		ProjectID:  p.ID,
		Name:       p.Name,
		Content:    p.Content,
		Stage:      p.Stage,
		PausedFrom: p.PausedFrom,
		Attempt:    attempt,
		BatchID:    p.BatchID,
		Settings:   p.Settings,
		Artifacts:  arts,
		LastError:  p.LastError,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Project rebuilds a project from its checkpoint
func (c *Checkpoint) Project() *domain.Project {
	arts := make(map[domain.ArtifactKind]string, len(c.Artifacts))
	for k, v := range c.Artifacts {
		arts[k] = v
	}
	return &domain.Project{
		ID:         c.ProjectID,
		Name:       c.Name,
		Content:    c.Content,
		Stage:      c.Stage,
		PausedFrom: c.PausedFrom,
		BatchID:    c.BatchID,
		Settings:   c.Settings,
		Artifacts:  arts,
		LastError:  c.LastError,
		UpdatedAt:  c.UpdatedAt,
	}
}

// Store is the durable key/value state behind the pipeline
type Store interface {
	// Put inserts or replaces the checkpoint for a project
	Put(cp *Checkpoint) error
	// Get returns the checkpoint for a project, or ErrNotFound
	Get(projectID string) (*Checkpoint, error)
	// ListNonTerminal returns every checkpoint whose stage is neither
	// completed nor failed. Used by the recovery sweep at process start.
	ListNonTerminal() ([]*Checkpoint, error)
	// ListByBatch returns all checkpoints belonging to a batch
	ListByBatch(batchID string) ([]*Checkpoint, error)
	// Delete removes a project's checkpoint. Deleting a missing
	// checkpoint is not an error.
	Delete(projectID string) error
	// PutBatch inserts or replaces a batch record
	PutBatch(b *domain.Batch) error
	// GetBatch returns a batch record by ID, or ErrNotFound
	GetBatch(id string) (*domain.Batch, error)
	// ListBatches returns all batch records
	ListBatches() ([]*domain.Batch, error)
	Close() error
}
