// Package batch coordinates groups of projects through the pipeline:
// creation, bounded parallel execution, cooperative pause/resume and
// aggregate status, plus cron-scheduled batch runs.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/executor"
	"github.com/clipforge/orchestrator/internal/notify"
	"github.com/clipforge/orchestrator/internal/pipeline"
	"github.com/clipforge/orchestrator/internal/progress"
)

// ProjectStatus is the per-member view returned by Status
type ProjectStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Coordinator owns batches of projects and drives their pipelines
// through a bounded worker pool.
type Coordinator struct {
	store  checkpoint.Store
	hub    *progress.Hub
	runner *executor.Runner
	pool   *executor.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifier notify.Notifier

	mu       sync.Mutex
	paused   map[string]bool // batchID -> pause flag
	running  map[string]bool // projectID -> in flight
	notified map[string]bool // batchID -> terminal notification sent
}

// NewCoordinator wires a coordinator over the given stage definitions.
// workers fixes the cross-project parallelism; it is configuration,
// not derived from batch size.
func NewCoordinator(store checkpoint.Store, hub *progress.Hub, exec *executor.Executor, defs []executor.StageDef, workers int) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:    store,
		hub:      hub,
		pool:     executor.NewPool(workers),
		notifier: notify.NoopNotifier{},
		ctx:      ctx,
		cancel:   cancel,
		paused:   make(map[string]bool),
		running:  make(map[string]bool),
		notified: make(map[string]bool),
	}
	c.runner = executor.NewRunner(exec, hub, defs, c.admit)
	return c
}

// SetNotifier routes batch-completion notifications. The default is a
// no-op.
func (c *Coordinator) SetNotifier(n notify.Notifier) {
	c.notifier = n
}

// admit is the runner's stage-start gate: members of a paused batch
// start no new stages
func (c *Coordinator) admit(p *domain.Project) bool {
	if p.BatchID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.paused[p.BatchID]
}

// CreateBatch accepts a named group of project specs, persists the
// batch and its member checkpoints, and starts execution. settings
// apply to every member; empty fields keep the configured defaults.
func (c *Coordinator) CreateBatch(name string, specs []domain.ProjectSpec, settings domain.Settings) (*domain.Batch, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("batch %q has no projects", name)
	}
	for i, spec := range specs {
		if spec.Content == "" {
			return nil, fmt.Errorf("project %d (%q) has no content", i, spec.Name)
		}
	}

	b := &domain.Batch{
		ID:         uuid.NewString(),
		Name:       name,
		Status:     domain.BatchQueued,
		TotalCount: len(specs),
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.store.PutBatch(b); err != nil {
		return nil, fmt.Errorf("persisting batch: %w", err)
	}

	projects := make([]*domain.Project, 0, len(specs))
	for _, spec := range specs {
		p := domain.NewProject(uuid.NewString(), spec.Name, spec.Content)
		p.BatchID = b.ID
		p.Settings = settings
		if err := c.store.Put(checkpoint.FromProject(p, 0)); err != nil {
			return nil, fmt.Errorf("persisting project %s: %w", p.Name, err)
		}
		projects = append(projects, p)
	}

	started := time.Now().UTC()
	b.Status = domain.BatchRunning
	b.StartedAt = &started
	if err := c.store.PutBatch(b); err != nil {
		return nil, err
	}

	for _, p := range projects {
		c.spawn(p)
	}

	log.Printf("batch %s (%s) created with %d projects", b.ID, b.Name, b.TotalCount)
	return b, nil
}

// RunProject admits a single project outside any batch
func (c *Coordinator) RunProject(p *domain.Project) error {
	if err := c.store.Put(checkpoint.FromProject(p, 0)); err != nil {
		return err
	}
	c.spawn(p)
	return nil
}

// spawn runs one project's pipeline on the worker pool
func (c *Coordinator) spawn(p *domain.Project) {
	c.mu.Lock()
	if c.running[p.ID] {
		c.mu.Unlock()
		return
	}
	c.running[p.ID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, p.ID)
			c.mu.Unlock()
			if p.BatchID != "" {
				if err := c.reconcile(p.BatchID); err != nil {
					log.Printf("reconciling batch %s: %v", p.BatchID, err)
				}
			}
		}()

		if err := c.pool.Acquire(c.ctx); err != nil {
			return
		}
		defer c.pool.Release()

		if err := c.runner.RunProject(c.ctx, p); err != nil {
			log.Printf("project %s (%s) failed: %v", p.ID, p.Name, err)
		}
	}()
}

// Pause stops admitting new stage-starts for the batch's members.
// Stages already in flight run to completion. Idempotent.
func (c *Coordinator) Pause(batchID string) error {
	b, err := c.store.GetBatch(batchID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.paused[batchID] = true
	c.mu.Unlock()

	b.Status = domain.BatchPaused
	if err := c.store.PutBatch(b); err != nil {
		return err
	}
	log.Printf("batch %s paused", batchID)
	return nil
}

// Resume lifts the pause flag and re-admits every non-terminal member.
// Idempotent.
func (c *Coordinator) Resume(batchID string) error {
	if _, err := c.store.GetBatch(batchID); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.paused, batchID)
	c.mu.Unlock()

	if err := c.reconcile(batchID); err != nil {
		return err
	}

	cps, err := c.store.ListByBatch(batchID)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if pipeline.IsTerminal(cp.Stage) {
			continue
		}
		c.spawn(cp.Project())
	}
	log.Printf("batch %s resumed", batchID)
	return nil
}

// Status recomputes the batch aggregate from current member states
// rather than trusting stored counters, then returns the reconciled
// batch and the per-member breakdown.
func (c *Coordinator) Status(batchID string) (*domain.Batch, []ProjectStatus, error) {
	b, err := c.store.GetBatch(batchID)
	if err != nil {
		return nil, nil, err
	}
	cps, err := c.store.ListByBatch(batchID)
	if err != nil {
		return nil, nil, err
	}

	b = c.deriveBatch(b, cps)
	if err := c.store.PutBatch(b); err != nil {
		return nil, nil, err
	}

	members := make([]ProjectStatus, 0, len(cps))
	for _, cp := range cps {
		ps := ProjectStatus{
			ID:       cp.ProjectID,
			Name:     cp.Name,
			Status:   string(cp.Stage),
			Progress: pipeline.Progress(cp.Stage),
		}
		if cp.Stage == domain.StageCompleted {
			ps.VideoURL = cp.Artifacts[domain.ArtifactUpload]
		}
		if cp.Stage == domain.StageFailed && cp.LastError != nil {
			ps.Error = cp.LastError.Message
		}
		members = append(members, ps)
	}
	return b, members, nil
}

// ListBatches returns all known batches, reconciled
func (c *Coordinator) ListBatches() ([]*domain.Batch, error) {
	batches, err := c.store.ListBatches()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Batch, 0, len(batches))
	for _, b := range batches {
		cps, err := c.store.ListByBatch(b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, c.deriveBatch(b, cps))
	}
	return out, nil
}

// deriveBatch recomputes counters and status from member checkpoints
func (c *Coordinator) deriveBatch(b *domain.Batch, cps []*checkpoint.Checkpoint) *domain.Batch {
	completed, failed, started := 0, 0, false
	for _, cp := range cps {
		switch cp.Stage {
		case domain.StageCompleted:
			completed++
		case domain.StageFailed:
			failed++
		}
		if cp.Stage != domain.StageInitialized {
			started = true
		}
	}

	b.CompletedCount = completed
	b.FailedCount = failed

	c.mu.Lock()
	paused := c.paused[b.ID]
	c.mu.Unlock()

	switch {
	case len(cps) > 0 && completed+failed == len(cps):
		if failed == len(cps) {
			b.Status = domain.BatchFailed
		} else {
			b.Status = domain.BatchCompleted
		}
		if b.FinishedAt == nil {
			now := time.Now().UTC()
			b.FinishedAt = &now
		}
	case paused:
		b.Status = domain.BatchPaused
	case started || b.StartedAt != nil:
		b.Status = domain.BatchRunning
	default:
		b.Status = domain.BatchQueued
	}
	return b
}

// reconcile refreshes one batch's stored aggregate
func (c *Coordinator) reconcile(batchID string) error {
	b, err := c.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	cps, err := c.store.ListByBatch(batchID)
	if err != nil {
		return err
	}
	b = c.deriveBatch(b, cps)
	if err := c.store.PutBatch(b); err != nil {
		return err
	}

	if b.Status == domain.BatchCompleted || b.Status == domain.BatchFailed {
		c.mu.Lock()
		first := !c.notified[b.ID]
		c.notified[b.ID] = true
		c.mu.Unlock()
		if first {
			if err := c.notifier.Send(notify.BatchFinished(b)); err != nil {
				log.Printf("notifying batch %s: %v", b.ID, err)
			}
		}
	}
	return nil
}

// Recover re-admits every non-terminal checkpoint found at process
// start. Working-stage checkpoints re-run their stage; stable ones
// continue at the next stage.
func (c *Coordinator) Recover() error {
	cps, err := c.store.ListNonTerminal()
	if err != nil {
		return err
	}
	for _, cp := range cps {
		log.Printf("recovering project %s at stage %s", cp.ProjectID, cp.Stage)
		c.spawn(cp.Project())
	}
	return nil
}

// Wait blocks until all spawned pipelines have returned
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop cancels admission and waits for in-flight stages to settle
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}
