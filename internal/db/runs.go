package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lightpos/internal/imaging"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the processing pipeline.
type Run struct {
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	Params    imaging.Params `json:"params"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt *time.Time     `json:"stopped_at,omitempty"`
	Frames    int64          `json:"frames"`
}

// StartRun records the start of a run with the parameters in effect.
func (db *DB) StartRun(runID, source string, params imaging.Params, startedAt time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO runs (run_id, source, params_json, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID, source, string(paramsJSON), toUnixNanos(startedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// StopRun marks a run as finished after the given number of frames.
func (db *DB) StopRun(runID string, frames int64, stoppedAt time.Time) error {
	res, err := db.Exec(
		`UPDATE runs SET stopped_unix_nanos = ?, frames = ? WHERE run_id = ?`,
		toUnixNanos(stoppedAt), frames, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to stop run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(runID string) (*Run, error) {
	var (
		run        Run
		paramsJSON string
		started    int64
		stopped    sql.NullInt64
	)
	err := db.QueryRow(
		`SELECT run_id, source, params_json, started_unix_nanos, stopped_unix_nanos, frames
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.Source, &paramsJSON, &started, &stopped, &run.Frames)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params for run %s: %w", runID, err)
	}
	run.StartedAt = fromUnixNanos(started)
	if stopped.Valid {
		t := fromUnixNanos(stopped.Int64)
		run.StoppedAt = &t
	}
	return &run, nil
}

// ParamChange is an audited update to a processing parameter.
type ParamChange struct {
	ID        int64     `json:"id"`
	ChangedAt time.Time `json:"changed_at"`
	Param     string    `json:"param"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Source    string    `json:"source"`
}

// RecordParamChange stores pc and sets its ID.
func (db *DB) RecordParamChange(pc *ParamChange) error {
	if pc.ChangedAt.IsZero() {
		pc.ChangedAt = time.Now().UTC()
	}
	res, err := db.Exec(
		`INSERT INTO param_changes (changed_unix_nanos, param, old_value, new_value, source) VALUES (?, ?, ?, ?, ?)`,
		toUnixNanos(pc.ChangedAt), pc.Param, pc.OldValue, pc.NewValue, pc.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to record param change: %w", err)
	}
	pc.ID, err = res.LastInsertId()
	return err
}

// ParamChanges returns up to limit changes, newest first.
func (db *DB) ParamChanges(limit int) ([]ParamChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, changed_unix_nanos, param, old_value, new_value, source
		 FROM param_changes ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []ParamChange
	for rows.Next() {
		var (
			pc      ParamChange
			changed int64
		)
		if err := rows.Scan(&pc.ID, &changed, &pc.Param, &pc.OldValue, &pc.NewValue, &pc.Source); err != nil {
			return nil, err
		}
		pc.ChangedAt = fromUnixNanos(changed)
		changes = append(changes, pc)
	}
	return changes, rows.Err()
}
