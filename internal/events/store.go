// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events provides per-order log event storage and live delivery.
// Everything a job runner logs for an order is appended here so the order's
// log can be queried after the fact.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is a single log event attached to a transformation order.
type Event struct {
	// OrderID is the owning order.
	OrderID string `json:"order_id"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`

	// Level is the log level (debug, info, warn, error).
	Level string `json:"level"`

	// Message is the log message.
	Message string `json:"message"`

	// Attrs holds structured attributes attached to the event.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// String renders the event the way it appears in an order log listing.
func (e Event) String() string {
	return fmt.Sprintf("%s %s %s", e.Time.UTC().Format(time.RFC3339), e.Level, e.Message)
}

// Store is the SQLite-backed event store.
type Store struct {
	db *sql.DB
}

// Config contains event store configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// NewStore opens (and migrates) the event database.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode lets the API read logs while workers append
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS order_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			attrs TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, timestamp)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append persists one event.
func (s *Store) Append(ctx context.Context, event Event) error {
	var attrs []byte
	if len(event.Attrs) > 0 {
		var err error
		attrs, err = json.Marshal(event.Attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_events (order_id, timestamp, level, message, attrs)
		 VALUES (?, ?, ?, ?, ?)`,
		event.OrderID,
		event.Time.UnixNano(),
		event.Level,
		event.Message,
		nullableString(attrs),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// List returns all events for an order in chronological order.
func (s *Store) List(ctx context.Context, orderID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, level, message, attrs
		 FROM order_events
		 WHERE order_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ts    int64
			event Event
			attrs sql.NullString
		)
		event.OrderID = orderID
		if err := rows.Scan(&ts, &event.Level, &event.Message, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Time = time.Unix(0, ts)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &event.Attrs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// DeleteOrder removes every event belonging to an evicted order.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM order_events WHERE order_id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
