// Package pipeline defines the ordered stage sequence of a production
// run and the legal transitions between stages.
package pipeline

import (
	"fmt"

	"github.com/clipforge/orchestrator/internal/domain"
)

// Order is the forward stage sequence from creation to publication
var Order = []domain.Stage{
	domain.StageInitialized,
	domain.StageScriptGenerating,
	domain.StageScriptGenerated,
	domain.StageAssetsGenerating,
	domain.StageAssetsGenerated,
	domain.StageRendering,
	domain.StageRendered,
	domain.StageThumbnailGenerating,
	domain.StageThumbnailGenerated,
	domain.StageUploading,
	domain.StageCompleted,
}

var orderIndex = func() map[domain.Stage]int {
	m := make(map[domain.Stage]int, len(Order))
	for i, s := range Order {
		m[s] = i
	}
	return m
}()

// working stages are owned by exactly one in-flight executor invocation
var working = map[domain.Stage]bool{
	domain.StageScriptGenerating:    true,
	domain.StageAssetsGenerating:    true,
	domain.StageRendering:           true,
	domain.StageThumbnailGenerating: true,
	domain.StageUploading:           true,
}

// IsTerminal reports whether a project at this stage is finished for good
func IsTerminal(s domain.Stage) bool {
	return s == domain.StageCompleted || s == domain.StageFailed
}

// IsWorking reports whether the stage is a transient in-flight state
// rather than a stable checkpoint
func IsWorking(s domain.Stage) bool {
	return working[s]
}

// Next returns the stage that follows s in the forward order
func Next(s domain.Stage) (domain.Stage, error) {
	i, ok := orderIndex[s]
	if !ok {
		return "", fmt.Errorf("stage %q has no forward successor", s)
	}
	if i == len(Order)-1 {
		return "", fmt.Errorf("stage %q is the end of the pipeline", s)
	}
	return Order[i+1], nil
}

// CanTransition reports whether moving from one stage to another is legal.
// Forward moves advance exactly one position in the order. Any
// non-terminal stage may move sideways into failed or paused, and a
// paused project may return to any non-terminal pipeline stage.
func CanTransition(from, to domain.Stage) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	if to == domain.StageFailed || to == domain.StagePaused {
		return true
	}
	if from == domain.StagePaused {
		i, ok := orderIndex[to]
		return ok && i < len(Order)-1
	}
	fi, ok1 := orderIndex[from]
	ti, ok2 := orderIndex[to]
	return ok1 && ok2 && ti == fi+1
}

// ResumeStage decides where a checkpointed project re-enters the
// pipeline after a restart. A working checkpoint means the process died
// mid-stage, so the same stage is re-run (collaborator calls are assumed
// safely re-runnable). A stable checkpoint resumes at the stage that
// produces the next artifact. A paused checkpoint resumes from the
// stage it held when it was paused, recorded as pausedFrom.
func ResumeStage(checkpointed, pausedFrom domain.Stage) (domain.Stage, error) {
	if IsTerminal(checkpointed) {
		return "", fmt.Errorf("stage %q is terminal, nothing to resume", checkpointed)
	}
	if checkpointed == domain.StagePaused {
		if pausedFrom == "" || pausedFrom == domain.StagePaused || IsTerminal(pausedFrom) {
			return "", fmt.Errorf("paused checkpoint has no resumable origin stage (%q)", pausedFrom)
		}
		checkpointed = pausedFrom
	}
	if IsWorking(checkpointed) {
		return checkpointed, nil
	}
	return Next(checkpointed)
}

// Progress maps a stage onto the 0-100 scale reported to observers
func Progress(s domain.Stage) int {
	switch s {
	case domain.StageFailed:
		return 0
	case domain.StagePaused:
		return 0
	}
	i, ok := orderIndex[s]
	if !ok {
		return 0
	}
	return i * 100 / (len(Order) - 1)
}
