package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clipforge/orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-backed checkpoint persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLiteStore at the given database path
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialized access avoids SQLITE_BUSY under concurrent stage writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or updates a checkpoint
func (s *SQLiteStore) Put(cp *Checkpoint) error {
	artsJSON, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return err
	}
	settingsJSON, err := json.Marshal(cp.Settings)
	if err != nil {
		return err
	}

	var errKind, errCode, errMsg sql.NullString
	if cp.LastError != nil {
		errKind = sql.NullString{String: string(cp.LastError.Kind), Valid: true}
		errCode = sql.NullString{String: cp.LastError.Code, Valid: true}
		errMsg = sql.NullString{String: cp.LastError.Message, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (project_id, name, content, stage, paused_from, attempt, batch_id, settings, artifacts, error_kind, error_code, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			stage = excluded.stage,
			paused_from = excluded.paused_from,
			attempt = excluded.attempt,
			settings = excluded.settings,
			artifacts = excluded.artifacts,
			error_kind = excluded.error_kind,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`,
		cp.ProjectID,
		cp.Name,
		cp.Content,
		string(cp.Stage),
		string(cp.PausedFrom),
		cp.Attempt,
		cp.BatchID,
		string(settingsJSON),
		string(artsJSON),
		errKind,
		errCode,
		errMsg,
		cp.UpdatedAt,
	)
	return err
}

// Get retrieves a checkpoint by project ID
func (s *SQLiteStore) Get(projectID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT project_id, name, content, stage, paused_from, attempt, batch_id, settings, artifacts, error_kind, error_code, error_message, updated_at
		FROM checkpoints WHERE project_id = ?
	`, projectID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

// ListNonTerminal returns checkpoints still eligible for execution
func (s *SQLiteStore) ListNonTerminal() ([]*Checkpoint, error) {
	return s.list(`stage NOT IN (?, ?)`, string(domain.StageCompleted), string(domain.StageFailed))
}

// ListByBatch returns all checkpoints owned by a batch
func (s *SQLiteStore) ListByBatch(batchID string) ([]*Checkpoint, error) {
	return s.list(`batch_id = ?`, batchID)
}

func (s *SQLiteStore) list(where string, args ...interface{}) ([]*Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT project_id, name, content, stage, paused_from, attempt, batch_id, settings, artifacts, error_kind, error_code, error_message, updated_at
		FROM checkpoints WHERE `+where+` ORDER BY updated_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Delete removes a checkpoint row
func (s *SQLiteStore) Delete(projectID string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE project_id = ?`, projectID)
	return err
}

// PutBatch inserts or updates a batch record
func (s *SQLiteStore) PutBatch(b *domain.Batch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (id, name, status, total_count, completed_count, failed_count, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_count = excluded.completed_count,
			failed_count = excluded.failed_count,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		b.ID, b.Name, string(b.Status), b.TotalCount, b.CompletedCount, b.FailedCount,
		b.CreatedAt, b.StartedAt, b.FinishedAt,
	)
	return err
}

// GetBatch retrieves a batch record by ID
func (s *SQLiteStore) GetBatch(id string) (*domain.Batch, error) {
	row := s.db.QueryRow(`
		SELECT id, name, status, total_count, completed_count, failed_count, created_at, started_at, finished_at
		FROM batches WHERE id = ?
	`, id)

	b, err := scanBatch(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListBatches returns all batch records, newest first
func (s *SQLiteStore) ListBatches() ([]*domain.Batch, error) {
	rows, err := s.db.Query(`
		SELECT id, name, status, total_count, completed_count, failed_count, created_at, started_at, finished_at
		FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var stage, artsJSON string
	var content, pausedFrom, batchID, settingsJSON, errKind, errCode, errMsg sql.NullString

	err := row.Scan(&cp.ProjectID, &cp.Name, &content, &stage, &pausedFrom, &cp.Attempt, &batchID, &settingsJSON, &artsJSON, &errKind, &errCode, &errMsg, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cp.Stage = domain.Stage(stage)
	if content.Valid {
		cp.Content = content.String
	}
	if pausedFrom.Valid {
		cp.PausedFrom = domain.Stage(pausedFrom.String)
	}
	if batchID.Valid {
		cp.BatchID = batchID.String
	}
	if settingsJSON.Valid && settingsJSON.String != "" && settingsJSON.String != "null" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &cp.Settings); err != nil {
			return nil, err
		}
	}

	if artsJSON != "" && artsJSON != "null" {
		if err := json.Unmarshal([]byte(artsJSON), &cp.Artifacts); err != nil {
			return nil, err
		}
	}
	if cp.Artifacts == nil {
		cp.Artifacts = make(map[domain.ArtifactKind]string)
	}

	if errKind.Valid {
		cp.LastError = &domain.StageError{
			Kind:    domain.ErrorKind(errKind.String),
			Stage:   cp.Stage,
			Code:    errCode.String,
			Message: errMsg.String,
		}
	}

	return &cp, nil
}

func scanBatch(scan func(dest ...interface{}) error) (*domain.Batch, error) {
	var b domain.Batch
	var status string
	var startedAt, finishedAt sql.NullTime

	err := scan(&b.ID, &b.Name, &status, &b.TotalCount, &b.CompletedCount, &b.FailedCount, &b.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BatchStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		b.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		b.FinishedAt = &t
	}
	return &b, nil
}

var _ Store = (*SQLiteStore)(nil)
