package domain

// Stage represents a project's position in the production pipeline
type Stage string

const (
	StageInitialized         Stage = "initialized"
	StageScriptGenerating    Stage = "script_generating"
	StageScriptGenerated     Stage = "script_generated"
	StageAssetsGenerating    Stage = "assets_generating"
	StageAssetsGenerated     Stage = "assets_generated"
	StageRendering           Stage = "rendering"
	StageRendered            Stage = "rendered"
	StageThumbnailGenerating Stage = "thumbnail_generating"
	StageThumbnailGenerated  Stage = "thumbnail_generated"
	StageUploading           Stage = "uploading"
	StageCompleted           Stage = "completed"
	StageFailed              Stage = "failed"
	StagePaused              Stage = "paused"
)

// BatchStatus represents the aggregate state of a batch
type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// EventKind classifies progress events
type EventKind string

const (
	EventConnected   EventKind = "connected"
	EventProgress    EventKind = "progress_update"
	EventStageChange EventKind = "stage_change"
	EventLog         EventKind = "log"
	EventError       EventKind = "error"
	EventComplete    EventKind = "complete"
	EventPing        EventKind = "ping"
)

// ArtifactKind names the artifact slots a pipeline run fills
type ArtifactKind string

const (
	ArtifactScript    ArtifactKind = "script"
	ArtifactVoice     ArtifactKind = "voice"
	ArtifactImages    ArtifactKind = "images"
	ArtifactAvatar    ArtifactKind = "avatar"
	ArtifactVideo     ArtifactKind = "video"
	ArtifactThumbnail ArtifactKind = "thumbnail"
	ArtifactUpload    ArtifactKind = "upload"
)
