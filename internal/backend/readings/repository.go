package readings

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:embed sql/upsert-device.sql
var upsertDeviceSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

// timeLayout is fixed-width so received_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Repository interface {
	Insert(ctx context.Context, doc Document, payload []byte, receivedAt time.Time) (string, error)
	Latest(ctx context.Context, deviceID string, limit int) ([]Reading, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Insert(ctx context.Context, doc Document, payload []byte, receivedAt time.Time) (string, error) {
	ts := receivedAt.UTC().Format(timeLayout)
	id := uuid.NewString()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertDeviceSQL, doc.DeviceID, ts); err != nil {
		return "", fmt.Errorf("upsert device: %w", err)
	}
	s := doc.Sensors
	if _, err := tx.ExecContext(ctx, insertReadingSQL,
		id, doc.DeviceID, ts,
		s.HeartRate, s.Temperature, s.Humidity, s.GPS.Latitude, s.GPS.Longitude,
		string(payload),
	); err != nil {
		return "", fmt.Errorf("insert reading: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (r *repositoryImpl) Latest(ctx context.Context, deviceID string, limit int) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Reading
	for rows.Next() {
		var (
			rec     Reading
			ts      string
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &ts,
			&rec.HeartRate, &rec.Temperature, &rec.Humidity, &rec.Latitude, &rec.Longitude,
			&payload,
		); err != nil {
			return nil, err
		}
		rec.ReceivedAt, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
