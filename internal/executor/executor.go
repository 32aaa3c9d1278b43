// Package executor runs pipeline stages for projects: it gates
// quota-limited stages, invokes the stage's external collaborator,
// retries transient failures with backoff, persists checkpoints and
// publishes progress events.
package executor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/pipeline"
	"github.com/clipforge/orchestrator/internal/progress"
	"github.com/clipforge/orchestrator/internal/quota"
)

// CollaboratorFunc is the boundary to an external artifact generator.
// It receives the project with its accumulated artifacts and returns
// the artifact references it produced, or a classified error.
type CollaboratorFunc func(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error)

// StageDef describes one pipeline stage declaratively: the working and
// done stage pair it owns, the collaborator that does the work, the
// retry budget and the optional quota gate.
type StageDef struct {
	Working      domain.Stage
	Done         domain.Stage
	Run          CollaboratorFunc
	MaxAttempts  int
	QuotaService string
	QuotaCost    int64
}

func (d StageDef) quotaGated() bool {
	return d.QuotaService != "" && d.QuotaCost > 0
}

// Executor runs single stages. Safe for concurrent use across projects;
// a single project must never have two stages in flight at once.
type Executor struct {
	store  checkpoint.Store
	hub    *progress.Hub
	ledger *quota.Ledger

	// sleep is replaced in tests to observe backoff without waiting
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an executor. ledger may be nil when no stage is
// quota-gated.
func New(store checkpoint.Store, hub *progress.Hub, ledger *quota.Ledger) *Executor {
	return &Executor{
		store:  store,
		hub:    hub,
		ledger: ledger,
		sleep:  sleepCtx,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return calculateBackoff(attempt, e.rng)
}

// RunStage drives one stage for one project to a checkpointed outcome.
// On success the project sits at def.Done with its new artifacts
// persisted. On failure the project is moved to failed with lastError
// recorded, and the classified error is returned.
func (e *Executor) RunStage(ctx context.Context, p *domain.Project, def StageDef) error {
	startAttempt := 0

	switch {
	case p.Stage == def.Working:
		// re-admitted after a crash mid-stage: same stage, keep the
		// attempt counter from the checkpoint
		if cp, err := e.store.Get(p.ID); err == nil && cp.Stage == def.Working {
			startAttempt = cp.Attempt
		}
	case pipeline.CanTransition(p.Stage, def.Working):
		p.Stage = def.Working
	default:
		return fmt.Errorf("illegal transition %s -> %s for project %s", p.Stage, def.Working, p.ID)
	}

	if err := e.persist(p, startAttempt); err != nil {
		return err
	}

	// quota gate: predicted exhaustion fails the stage before any
	// attempt is made, and is never retried
	if def.quotaGated() && e.ledger != nil {
		ok, err := e.ledger.TryReserve(def.QuotaService, def.QuotaCost)
		if err != nil {
			return e.fail(p, domain.Resource("quota_check", "quota ledger unavailable", err), 0, def)
		}
		if !ok {
			return e.fail(p, domain.QuotaExceeded(def.QuotaService), 0, def)
		}
	}

	maxAttempts := def.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr *domain.StageError
	for attempt := startAttempt; attempt < maxAttempts; attempt++ {
		e.publishProgress(p, attempt, maxAttempts)

		artifacts, err := def.Run(ctx, p)
		if err == nil {
			for kind, ref := range artifacts {
				p.Artifacts[kind] = ref
			}
			// the external spend happened, commit it to the ledger
			if def.quotaGated() && e.ledger != nil {
				if err := e.ledger.Record(def.QuotaService, def.QuotaCost); err != nil {
					log.Printf("recording quota for %s failed: %v", def.QuotaService, err)
				}
			}

			p.Stage = def.Done
			p.LastError = nil
			if err := e.persist(p, 0); err != nil {
				return err
			}
			e.publishStageChange(p)
			return nil
		}

		lastErr = domain.Classify(err)
		lastErr.Stage = def.Working

		if !lastErr.Retryable() {
			return e.fail(p, lastErr, attempt, def)
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := e.backoff(attempt)
		log.Printf("project %s stage %s attempt %d/%d failed (%s), retrying in %s",
			p.ID, def.Working, attempt+1, maxAttempts, lastErr.Code, delay.Round(time.Millisecond))
		if err := e.persist(p, attempt+1); err != nil {
			return err
		}
		if err := e.sleep(ctx, delay); err != nil {
			return e.fail(p, domain.Permanent("canceled", "stage canceled while backing off", err), attempt, def)
		}
	}

	if lastErr == nil {
		// the checkpointed attempt counter already reached the budget
		lastErr = domain.Permanent("attempts_exhausted", "no attempts remaining for stage", nil)
		lastErr.Stage = def.Working
	} else {
		lastErr.Message = fmt.Sprintf("retries exhausted after %d attempts: %s", maxAttempts, lastErr.Message)
	}
	return e.fail(p, lastErr, maxAttempts-1, def)
}

func (e *Executor) persist(p *domain.Project, attempt int) error {
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.Put(checkpoint.FromProject(p, attempt)); err != nil {
		return fmt.Errorf("persisting checkpoint for %s: %w", p.ID, err)
	}
	return nil
}

func (e *Executor) fail(p *domain.Project, se *domain.StageError, attempt int, def StageDef) error {
	p.Stage = domain.StageFailed
	p.LastError = se
	if err := e.persist(p, attempt); err != nil {
		log.Printf("persisting failure for %s: %v", p.ID, err)
	}

	maxAttempts := def.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	e.hub.Publish(domain.NewEvent(p.ID, domain.EventError, map[string]interface{}{
		"code":         se.Code,
		"message":      se.Message,
		"stage":        string(se.Stage),
		"is_retryable": se.Retryable(),
		"retry_count":  attempt,
		"max_retries":  maxAttempts,
		"solutions":    se.Solutions,
	}))
	return se
}

func (e *Executor) publishProgress(p *domain.Project, attempt, maxAttempts int) {
	e.hub.Publish(domain.NewEvent(p.ID, domain.EventProgress, map[string]interface{}{
		"status":        "running",
		"progress":      pipeline.Progress(p.Stage),
		"current_stage": string(p.Stage),
		"attempt":       attempt + 1,
		"max_attempts":  maxAttempts,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}))
}

func (e *Executor) publishStageChange(p *domain.Project) {
	e.hub.Publish(domain.NewEvent(p.ID, domain.EventStageChange, map[string]interface{}{
		"status":        "running",
		"progress":      pipeline.Progress(p.Stage),
		"current_stage": string(p.Stage),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}))
}
