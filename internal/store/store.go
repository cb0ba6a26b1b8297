// Package store is the data access layer for extraction jobs, keeping SQL
// queries separate from the orchestration logic.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no job exists for the requested key.
	ErrNotFound = errors.New("extraction job not found")
	// ErrTerminal is returned when a write targets a completed or failed job.
	ErrTerminal = errors.New("extraction job is in a terminal state")
	// ErrStatusConflict is returned when a conditional status change did not match.
	ErrStatusConflict = errors.New("extraction job is not in an expected status")
)

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	if string(b) == "null" {
		return fallback, nil
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
