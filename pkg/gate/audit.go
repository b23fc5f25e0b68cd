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

package gate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// AuditEntry is one row in a daily gate audit log.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Gate      Gate      `json:"gate"`
	Source    string    `json:"source"`
	Path      string    `json:"path,omitempty"`
	Action    Action    `json:"action"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Approver  Approver  `json:"approver"`
}

// AuditLog appends gate evaluations to per-day JSONL files under dir.
type AuditLog struct {
	dir string
}

// NewAuditLog returns an AuditLog rooted at dir (typically
// <state>/gates). The directory is created lazily on first append.
func NewAuditLog(dir string) *AuditLog {
	return &AuditLog{dir: dir}
}

func (a *AuditLog) pathFor(day time.Time) string {
	return filepath.Join(a.dir, fmt.Sprintf("gates-%s.jsonl", day.Format("2006-01-02")))
}

// Append writes one audit entry to the log file for the entry's day; an
// entry with no Timestamp is stamped with the current time first.
func (a *AuditLog) Append(entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(a.pathFor(entry.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// History returns audit entries from the last days calendar days,
// newest first, optionally filtered by gate name, bounded by limit
// (0 means unbounded). Calendar days are walked with proper date
// arithmetic (time.AddDate), not naive integer subtraction, so month
// and year boundaries are handled correctly.
func (a *AuditLog) History(days int, gateFilter Gate, limit int) ([]AuditEntry, error) {
	var all []AuditEntry
	now := time.Now()
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i)
		entries, err := a.readDay(day)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if gateFilter != "" {
		filtered := all[:0]
		for _, e := range all {
			if e.Gate == gateFilter {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (a *AuditLog) readDay(day time.Time) ([]AuditEntry, error) {
	f, err := os.Open(a.pathFor(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
