package db

import (
	"fmt"
	"time"
)

// CentroidRecord is the stored result of processing one frame.
type CentroidRecord struct {
	ID             int64         `json:"id"`
	RunID          string        `json:"run_id"`
	FrameID        string        `json:"frame_id"`
	SourceFrameID  string        `json:"source_frame_id"`
	Seq            uint32        `json:"seq"`
	Stamp          time.Time     `json:"stamp"`
	X              int           `json:"x"`
	Y              int           `json:"y"`
	Found          bool          `json:"found"`
	BrightCount    int           `json:"bright_count"`
	Threshold      int           `json:"threshold"`
	ProcessingTime time.Duration `json:"processing_ns"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// RecordCentroid stores rec and sets its ID.
func (db *DB) RecordCentroid(rec *CentroidRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	found := 0
	if rec.Found {
		found = 1
	}
	res, err := db.Exec(
		`INSERT INTO centroids (
			run_id, frame_id, source_frame_id, seq, stamp_unix_nanos, x, y,
			found, bright_count, threshold, processing_ns, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.FrameID, rec.SourceFrameID, rec.Seq, toUnixNanos(rec.Stamp), rec.X, rec.Y,
		found, rec.BrightCount, rec.Threshold, int64(rec.ProcessingTime), toUnixNanos(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record centroid: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// RecentCentroids returns the last limit centroids of a run in the order
// they were recorded.
func (db *DB) RecentCentroids(runID string, limit int) ([]CentroidRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, run_id, frame_id, source_frame_id, seq, stamp_unix_nanos, x, y,
			found, bright_count, threshold, processing_ns, recorded_unix_nanos
		 FROM centroids WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CentroidRecord
	for rows.Next() {
		var (
			rec                     CentroidRecord
			stamp, recorded, procNs int64
			found                   int
		)
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.FrameID, &rec.SourceFrameID, &rec.Seq, &stamp, &rec.X, &rec.Y,
			&found, &rec.BrightCount, &rec.Threshold, &procNs, &recorded,
		); err != nil {
			return nil, err
		}
		rec.Stamp = fromUnixNanos(stamp)
		rec.RecordedAt = fromUnixNanos(recorded)
		rec.ProcessingTime = time.Duration(procNs)
		rec.Found = found != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CountCentroids returns the number of centroids stored for a run.
func (db *DB) CountCentroids(runID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM centroids WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
