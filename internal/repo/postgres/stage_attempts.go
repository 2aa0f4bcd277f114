package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/attribution-runner/internal/repo"
)

type StageAttemptStore struct {
	db DB
}

const (
	createStageAttemptsTable = `CREATE TABLE IF NOT EXISTS stage_attempts (
		stage_attempt_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		stage_name TEXT NOT NULL,
		attempt INTEGER NOT NULL CHECK (attempt >= 1),
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		error_message TEXT,
		UNIQUE (run_id, stage_name, attempt, status)
	)`

	createStageAttemptsIndex = `CREATE INDEX IF NOT EXISTS stage_attempts_instance_idx
		ON stage_attempts (instance_id, started_at)`

	insertStageAttemptQuery = `INSERT INTO stage_attempts (
		stage_attempt_id,
		run_id,
		instance_id,
		stage_name,
		attempt,
		status,
		started_at,
		finished_at,
		error_message
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (run_id, stage_name, attempt, status) DO NOTHING
	RETURNING stage_attempt_id, run_id, instance_id, stage_name, attempt, status, started_at, finished_at, error_message`

	selectStageAttemptQuery = `SELECT stage_attempt_id, run_id, instance_id, stage_name, attempt, status, started_at, finished_at, error_message
	 FROM stage_attempts
	 WHERE run_id = $1 AND stage_name = $2 AND attempt = $3 AND status = $4`

	listStageAttemptsByInstanceQuery = `SELECT stage_attempt_id, run_id, instance_id, stage_name, attempt, status, started_at, finished_at, error_message
	 FROM stage_attempts
	 WHERE instance_id = $1
	 ORDER BY started_at ASC, stage_name ASC, attempt ASC`
)

func NewStageAttemptStore(db DB) *StageAttemptStore {
	if db == nil {
		return nil
	}
	return &StageAttemptStore{db: db}
}

// EnsureSchema creates the ledger table when it does not exist yet.
func (s *StageAttemptStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage attempt store not initialized")
	}
	for _, stmt := range []string{createStageAttemptsTable, createStageAttemptsIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure stage_attempts schema: %w", err)
		}
	}
	return nil
}

func (s *StageAttemptStore) InsertAttempt(ctx context.Context, record repo.StageAttemptRecord) (repo.StageAttemptRecord, bool, error) {
	if s == nil || s.db == nil {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("stage attempt store not initialized")
	}
	runID := strings.TrimSpace(record.RunID)
	instanceID := strings.TrimSpace(record.InstanceID)
	stageName := strings.TrimSpace(record.StageName)
	status := strings.TrimSpace(record.Status)

	if runID == "" {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("run id is required")
	}
	if instanceID == "" {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("instance id is required")
	}
	if stageName == "" {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("stage name is required")
	}
	if record.Attempt < 1 {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("attempt must be >= 1")
	}
	if status == "" {
		return repo.StageAttemptRecord{}, false, fmt.Errorf("status is required")
	}

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	var finishedAt sql.NullTime
	if record.FinishedAt != nil && !record.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: record.FinishedAt.UTC(), Valid: true}
	}

	id := record.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	inserted, err := scanStageAttempt(s.db.QueryRowContext(
		ctx,
		insertStageAttemptQuery,
		id,
		runID,
		instanceID,
		stageName,
		record.Attempt,
		status,
		startedAt.UTC(),
		finishedAt,
		nullIfEmpty(record.ErrorMessage),
	))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return repo.StageAttemptRecord{}, false, fmt.Errorf("insert stage attempt: %w", err)
		}
		existing, err := s.getAttempt(ctx, runID, stageName, record.Attempt, status)
		if err != nil {
			return repo.StageAttemptRecord{}, false, err
		}
		return existing, false, nil
	}
	return inserted, true, nil
}

func (s *StageAttemptStore) ListByInstance(ctx context.Context, instanceID string) ([]repo.StageAttemptRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage attempt store not initialized")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	rows, err := s.db.QueryContext(ctx, listStageAttemptsByInstanceQuery, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list stage attempts: %w", err)
	}
	defer rows.Close()

	records := make([]repo.StageAttemptRecord, 0)
	for rows.Next() {
		record, err := scanStageAttempt(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage attempts: %w", err)
	}
	return records, nil
}

func (s *StageAttemptStore) getAttempt(ctx context.Context, runID, stageName string, attempt int, status string) (repo.StageAttemptRecord, error) {
	return scanStageAttempt(s.db.QueryRowContext(ctx, selectStageAttemptQuery, runID, stageName, attempt, status))
}

type stageAttemptScanner interface {
	Scan(dest ...any) error
}

func scanStageAttempt(scanner stageAttemptScanner) (repo.StageAttemptRecord, error) {
	var record repo.StageAttemptRecord
	var finishedAt sql.NullTime
	var errorMessage sql.NullString
	if err := scanner.Scan(
		&record.ID,
		&record.RunID,
		&record.InstanceID,
		&record.StageName,
		&record.Attempt,
		&record.Status,
		&record.StartedAt,
		&finishedAt,
		&errorMessage,
	); err != nil {
		return repo.StageAttemptRecord{}, handleNotFound(err)
	}
	record.StartedAt = record.StartedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		record.FinishedAt = &t
	}
	record.ErrorMessage = strings.TrimSpace(errorMessage.String)
	return record, nil
}
