package benchmark

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sample is one recorded latency answer. Timestamps are Unix microseconds.
type Sample struct {
	SensorName       string
	ReadingUUID      string
	SendTimestamp    int64
	RecvTimestamp    int64
	InferenceLatency int64
	RegisteredAt     time.Time
}

// Repository stores samples.
type Repository interface {
	// Insert stores s. A duplicate (sensor, reading) pair is ignored.
	Insert(ctx context.Context, s Sample) error

	// List returns samples ordered by registration time. An empty sensor
	// name lists every sensor.
	List(ctx context.Context, sensor string) ([]Sample, error)
}

// SQLiteRepository implements Repository on the latency_samples table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed sample repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores one sample.
func (r *SQLiteRepository) Insert(ctx context.Context, s Sample) error {
	const query = `INSERT OR IGNORE INTO latency_samples
		(sensor_name, reading_uuid, send_timestamp, recv_timestamp, inference_latency, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		s.SensorName, s.ReadingUUID, s.SendTimestamp, s.RecvTimestamp, s.InferenceLatency,
		s.RegisteredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting sample %s/%s: %w", s.SensorName, s.ReadingUUID, err)
	}
	return nil
}

// List returns stored samples.
func (r *SQLiteRepository) List(ctx context.Context, sensor string) ([]Sample, error) {
	query := `SELECT sensor_name, reading_uuid, send_timestamp, recv_timestamp,
		inference_latency, registered_at FROM latency_samples`
	var args []any
	if sensor != "" {
		query += ` WHERE sensor_name = ?`
		args = append(args, sensor)
	}
	query += ` ORDER BY registered_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var registered string
		if err := rows.Scan(&s.SensorName, &s.ReadingUUID, &s.SendTimestamp,
			&s.RecvTimestamp, &s.InferenceLatency, &registered); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.RegisteredAt, err = time.Parse(time.RFC3339Nano, registered)
		if err != nil {
			return nil, fmt.Errorf("parsing registered_at %q: %w", registered, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return samples, nil
}
