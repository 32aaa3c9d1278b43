package domain

import "time"

// Project is one unit of production work: raw text in, published video out
type Project struct {
	ID         string
	Name       string
	Content    string
	Stage      Stage
	PausedFrom Stage // stage the project held when it was paused
	BatchID    string
	Settings   Settings
	Artifacts  map[ArtifactKind]string
	LastError  *StageError
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Settings are generation knobs shared by every project in a batch.
// Empty fields fall back to the configured defaults.
type Settings struct {
	Voice      string `json:"voice,omitempty" yaml:"voice"`
	Style      string `json:"style,omitempty" yaml:"style"`
	Visibility string `json:"visibility,omitempty" yaml:"visibility"`
}

// Zero reports whether no setting is overridden
func (s Settings) Zero() bool {
	return s == Settings{}
}

// NewProject creates a project at the start of the pipeline
func NewProject(id, name, content string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        id,
		Name:      name,
		Content:   content,
		Stage:     StageInitialized,
		Artifacts: make(map[ArtifactKind]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the project can make no further progress
func (p *Project) Terminal() bool {
	return p.Stage == StageCompleted || p.Stage == StageFailed
}

// Artifact returns the reference stored for a slot, if any
func (p *Project) Artifact(kind ArtifactKind) (string, bool) {
	ref, ok := p.Artifacts[kind]
	return ref, ok
}

// Batch is a named group of projects run together
type Batch struct {
	ID             string
	Name           string
	Status         BatchStatus
	TotalCount     int
	CompletedCount int
	FailedCount    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// ProjectSpec describes one project inside a batch request
type ProjectSpec struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}
