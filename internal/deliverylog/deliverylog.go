// Package deliverylog keeps a SQLite journal of every email the relay
// handled and what became of it.
package deliverylog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the outcome recorded for an email.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Entry is one journal row.
type Entry struct {
	ID             string
	Timestamp      time.Time
	EmailFrom      string
	EmailTo        string
	SMSTo          string
	SMSFrom        string
	MessageLength  int
	Segments       int
	Status         Status
	Error          string
	ProviderSID    string
	ProcessingTime time.Duration
}

// Journal is a SQLite-backed delivery log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("delivery journal opened", "path", path)
	return &Journal{db: db}, nil
}

// Record inserts e, assigning an ID and timestamp when they are unset.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, timestamp, email_from, email_to, sms_to, sms_from,
			message_length, segments, status, error, provider_sid, processing_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), e.EmailFrom, e.EmailTo, e.SMSTo, e.SMSFrom,
		e.MessageLength, e.Segments, string(e.Status), e.Error, e.ProviderSID,
		e.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, timestamp, email_from, email_to, sms_to, sms_from,
			message_length, segments, status, error, provider_sid, processing_ms
		FROM deliveries
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			ts, procMS int64
			status     string
		)
		if err := rows.Scan(&e.ID, &ts, &e.EmailFrom, &e.EmailTo, &e.SMSTo, &e.SMSFrom,
			&e.MessageLength, &e.Segments, &status, &e.Error, &e.ProviderSID, &procMS); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Status = Status(status)
		e.ProcessingTime = time.Duration(procMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
