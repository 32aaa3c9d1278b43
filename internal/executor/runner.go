package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/pipeline"
	"github.com/clipforge/orchestrator/internal/progress"
)

// AdmitFunc decides whether a project may start its next stage. A
// paused batch returns false for its members; stages already in flight
// are unaffected.
type AdmitFunc func(p *domain.Project) bool

// Runner drives one project at a time through its remaining stages in
// pipeline order. Cross-project concurrency is the caller's business,
// bounded by a Pool.
type Runner struct {
	exec   *Executor
	hub    *progress.Hub
	stages map[domain.Stage]StageDef
	admit  AdmitFunc
}

// NewRunner creates a runner over an ordered set of stage definitions.
// admit may be nil, in which case every stage start is allowed.
func NewRunner(exec *Executor, hub *progress.Hub, defs []StageDef, admit AdmitFunc) *Runner {
	stages := make(map[domain.Stage]StageDef, len(defs))
	for _, d := range defs {
		stages[d.Working] = d
	}
	return &Runner{exec: exec, hub: hub, stages: stages, admit: admit}
}

// RunProject advances a project stage by stage until it completes,
// fails, or admission is withheld. Admission is checked at every stage
// boundary: pausing never preempts a stage in flight.
func (r *Runner) RunProject(ctx context.Context, p *domain.Project) error {
	for !p.Terminal() {
		next, err := pipeline.ResumeStage(p.Stage, p.PausedFrom)
		if err != nil {
			return err
		}

		def, ok := r.stages[next]
		if !ok {
			return fmt.Errorf("no stage definition for %s", next)
		}

		if r.admit != nil && !r.admit(p) {
			log.Printf("project %s held at %s, admission withheld", p.ID, p.Stage)
			return nil
		}
		if err := ctx.Err(); err != nil {
			// cancellation is advisory and lands at stage boundaries
			log.Printf("project %s stopped at %s: %v", p.ID, p.Stage, err)
			return nil
		}

		if err := r.exec.RunStage(ctx, p, def); err != nil {
			return err
		}
	}

	if p.Stage == domain.StageCompleted {
		r.hub.Publish(domain.NewEvent(p.ID, domain.EventComplete, map[string]interface{}{
			"status":        "completed",
			"progress":      100,
			"current_stage": string(domain.StageCompleted),
			"video_url":     p.Artifacts[domain.ArtifactUpload],
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		}))
	}
	return nil
}
