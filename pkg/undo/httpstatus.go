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

package undo

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/daedalos/daedalos/pkg/backupstore"
)

// ServeStatus runs a read-only HTTP status page bound to addr (expected
// to be a loopback address, e.g. "127.0.0.1:0") until ctx is cancelled.
// It exposes only GET /status and /timeline — no mutation endpoint — so
// the undo daemon's one write path remains the Unix socket, whose
// reachability is the trust boundary (local user account).
func ServeStatus(ctx context.Context, addr string, store *backupstore.Store) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.Timeline.List(1, "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		status := map[string]any{"entry_count": len(entries)}
		if len(entries) > 0 {
			status["last_entry"] = entries[0]
		}
		writeJSON(w, status)
	})
	mux.HandleFunc("/timeline", func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.Timeline.List(100, r.URL.Query().Get("path"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
