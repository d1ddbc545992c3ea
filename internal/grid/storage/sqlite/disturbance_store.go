package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/monitoring"
	"github.com/banshee-data/gridwatch/internal/timeutil"
)

// ErrNotFound is returned by Get for an unknown disturbance ID.
var ErrNotFound = errors.New("disturbance not found")

// Record is a persisted disturbance.
type Record struct {
	RowID       string               `json:"row_id"`
	Disturbance grid.GridDisturbance `json:"disturbance"`
	RecordedAt  time.Time            `json:"recorded_at"`
}

// DisturbanceStore provides persistence for emitted disturbances.
type DisturbanceStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewDisturbanceStore creates a store over db. A nil clock uses wall time
// for RecordedAt.
func NewDisturbanceStore(db *sql.DB, clock timeutil.Clock) *DisturbanceStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DisturbanceStore{db: db, clock: clock}
}

// Insert persists d and returns the new row ID.
func (s *DisturbanceStore) Insert(d grid.GridDisturbance) (string, error) {
	if d.ID == "" {
		return "", fmt.Errorf("insert disturbance: empty id")
	}
	dots, err := json.Marshal(d.AffectedDots)
	if err != nil {
		return "", fmt.Errorf("marshal affected dots: %w", err)
	}
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	rowID := uuid.New().String()
	recordedAt := s.clock.Now().UnixNano()
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO grid_disturbances (
				row_id, disturbance_id, frame_number, disturbance_type, timestamp_ns,
				intensity, confidence, position_x, position_y, size_x, size_y,
				duration_ns, affected_dots, metadata_json, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rowID, d.ID, d.FrameNumber, string(d.Type), d.Timestamp.UnixNano(),
			d.Intensity, d.Confidence, d.Position.X, d.Position.Y, d.Size.X, d.Size.Y,
			int64(d.Duration), string(dots), string(meta), recordedAt,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert disturbance %s: %w", d.ID, err)
	}
	return rowID, nil
}

// OnDisturbance is a detector listener that persists every event and logs
// failures instead of returning them.
func (s *DisturbanceStore) OnDisturbance(d grid.GridDisturbance) {
	if _, err := s.Insert(d); err != nil {
		monitoring.Opsf("evidence log: %v", err)
	}
}

const selectColumns = `
	SELECT row_id, disturbance_id, frame_number, disturbance_type, timestamp_ns,
	       intensity, confidence, position_x, position_y, size_x, size_y,
	       duration_ns, affected_dots, metadata_json, recorded_at
	FROM grid_disturbances`

// Get returns the record for a disturbance ID.
func (s *DisturbanceStore) Get(disturbanceID string) (*Record, error) {
	row := s.db.QueryRow(selectColumns+` WHERE disturbance_id = ?`, disturbanceID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, disturbanceID)
	}
	return r, err
}

// ListSince returns disturbances with a timestamp at or after since,
// oldest first. limit <= 0 means no limit.
func (s *DisturbanceStore) ListSince(since time.Time, limit int) ([]*Record, error) {
	query := selectColumns + ` WHERE timestamp_ns >= ? ORDER BY timestamp_ns ASC, frame_number ASC`
	args := []interface{}{since.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query disturbances: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByType returns per-type counts of disturbances at or after since.
func (s *DisturbanceStore) CountByType(since time.Time) (map[grid.DisturbanceType]int, error) {
	rows, err := s.db.Query(`
		SELECT disturbance_type, COUNT(*)
		FROM grid_disturbances
		WHERE timestamp_ns >= ?
		GROUP BY disturbance_type`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("count disturbances: %w", err)
	}
	defer rows.Close()

	counts := make(map[grid.DisturbanceType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[grid.DisturbanceType(typ)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                  Record
		d                  = &r.Disturbance
		typ, dots          string
		meta               sql.NullString
		tsNs, durNs, recNs int64
	)
	err := row.Scan(
		&r.RowID, &d.ID, &d.FrameNumber, &typ, &tsNs,
		&d.Intensity, &d.Confidence, &d.Position.X, &d.Position.Y, &d.Size.X, &d.Size.Y,
		&durNs, &dots, &meta, &recNs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan disturbance: %w", err)
	}
	d.Type = grid.DisturbanceType(typ)
	d.Timestamp = time.Unix(0, tsNs).UTC()
	d.Duration = time.Duration(durNs)
	r.RecordedAt = time.Unix(0, recNs).UTC()
	if err := json.Unmarshal([]byte(dots), &d.AffectedDots); err != nil {
		return nil, fmt.Errorf("unmarshal affected dots: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &r, nil
}
