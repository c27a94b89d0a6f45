package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PipelineRun struct {
	ID          string          `json:"id"`
	Project     string          `json:"project"`
	Schedule    string          `json:"schedule"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (s *Store) SavePipelineRun(run *PipelineRun) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, project, schedule, status)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.Project, run.Schedule, run.Status)
	if err != nil {
		return fmt.Errorf("save pipeline run: %w", err)
	}
	return nil
}

func (s *Store) UpdatePipelineRun(id, status string, result json.RawMessage) error {
	_, err := s.db.Exec(`
		UPDATE pipeline_runs
		SET status = ?, result = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, result, id)
	if err != nil {
		return fmt.Errorf("update pipeline run: %w", err)
	}
	return nil
}

func (s *Store) GetPipelineRun(id string) (*PipelineRun, error) {
	run := &PipelineRun{}
	var result sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, project, schedule, status, result, started_at, completed_at
		FROM pipeline_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Project, &run.Schedule, &run.Status, &result, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	if result.Valid {
		run.Result = json.RawMessage(result.String)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func (s *Store) ListPipelineRuns(limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, project, schedule, status, result, started_at, completed_at
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var run PipelineRun
		var result sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Project, &run.Schedule, &run.Status, &result, &run.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		if result.Valid {
			run.Result = json.RawMessage(result.String)
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
