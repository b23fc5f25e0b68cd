// Copyright 2025 Kadir Pekel
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

package backupstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ChangeType classifies a timeline entry.
type ChangeType string

const (
	ChangeEdit       ChangeType = "edit"
	ChangeCreate     ChangeType = "create"
	ChangeDelete     ChangeType = "delete"
	ChangeRename     ChangeType = "rename"
	ChangeCheckpoint ChangeType = "checkpoint"
)

// Entry is one row of the append-only timeline.
type Entry struct {
	ID          string
	Timestamp   time.Time
	ChangeType  ChangeType
	Path        string
	Description string
	BackupHash  string // empty for deletions and some checkpoint rows
	SizeBytes   int64
	Project     string
}

// Checkpoint is a named point in the timeline, capturing the IDs of the
// entries it covers.
type Checkpoint struct {
	ID        string
	Name      string
	Timestamp time.Time
	EntryIDs  []string
}

// Timeline wraps the SQLite-backed append-only change log.
type Timeline struct {
	db *sql.DB
}

// OpenTimeline opens (creating if necessary) the timeline database at path.
func OpenTimeline(path string) (*Timeline, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create timeline dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}
	t := &Timeline{db: db}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Timeline) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS timeline (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	change_type TEXT NOT NULL,
	path TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	backup_hash TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	project TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_timeline_path ON timeline(path);
CREATE INDEX IF NOT EXISTS idx_timeline_timestamp ON timeline(timestamp);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	entry_ids TEXT NOT NULL DEFAULT ''
);
`
	if _, err := t.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate timeline schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (t *Timeline) Close() error { return t.db.Close() }

// Append inserts a new timeline entry, assigning it an ID and timestamp
// if unset.
func (t *Timeline) Append(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := t.db.Exec(
		`INSERT INTO timeline (id, timestamp, change_type, path, description, backup_hash, size_bytes, project)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(e.ChangeType), e.Path, e.Description, e.BackupHash, e.SizeBytes, e.Project,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append timeline entry: %w", err)
	}
	return e, nil
}

// List returns up to limit entries (0 means unbounded), newest first,
// optionally filtered to a single file path.
func (t *Timeline) List(limit int, pathFilter string) ([]Entry, error) {
	query := `SELECT id, timestamp, change_type, path, description, backup_hash, size_bytes, project FROM timeline`
	args := []any{}
	if pathFilter != "" {
		query += ` WHERE path = ?`
		args = append(args, pathFilter)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := t.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.ChangeType, &e.Path, &e.Description, &e.BackupHash, &e.SizeBytes, &e.Project); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns a single entry by ID.
func (t *Timeline) Get(id string) (Entry, error) {
	var e Entry
	var ts string
	row := t.db.QueryRow(
		`SELECT id, timestamp, change_type, path, description, backup_hash, size_bytes, project FROM timeline WHERE id = ?`, id)
	if err := row.Scan(&e.ID, &ts, &e.ChangeType, &e.Path, &e.Description, &e.BackupHash, &e.SizeBytes, &e.Project); err != nil {
		return Entry{}, fmt.Errorf("get timeline entry %s: %w", id, err)
	}
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return e, nil
}

// CreateCheckpoint records a named checkpoint capturing the current set
// of timeline entry IDs, and appends a checkpoint-type timeline entry.
func (t *Timeline) CreateCheckpoint(name, description string) (Checkpoint, error) {
	entries, err := t.List(0, "")
	if err != nil {
		return Checkpoint{}, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	cp := Checkpoint{ID: uuid.NewString(), Name: name, Timestamp: time.Now(), EntryIDs: ids}

	joined := joinIDs(cp.EntryIDs)
	if _, err := t.db.Exec(
		`INSERT INTO checkpoints (id, name, timestamp, entry_ids) VALUES (?, ?, ?, ?)`,
		cp.ID, cp.Name, cp.Timestamp.Format(time.RFC3339Nano), joined,
	); err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	desc := description
	if desc == "" {
		desc = fmt.Sprintf("checkpoint %q (%d entries)", name, len(ids))
	}
	if _, err := t.Append(Entry{
		ChangeType:  ChangeCheckpoint,
		Path:        "",
		Description: desc,
	}); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
