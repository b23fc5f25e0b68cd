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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/daedalos/daedalos/pkg/backupstore"
)

// Request is one client request to the undo daemon's Unix socket: one
// JSON request/response per connection.
type Request struct {
	Op           string `json:"op"`
	Limit        int    `json:"limit,omitempty"`
	PathFilter   string `json:"path_filter,omitempty"`
	EntryID      string `json:"entry_id,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	RetainNewest int    `json:"retain_newest,omitempty"`
}

// Response is the daemon's reply.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Daemon serves timeline/checkpoint/restore operations over a Unix
// socket, one JSON request/response per connection, with watching
// running concurrently in the background.
type Daemon struct {
	Store      *backupstore.Store
	Watcher    *Watcher
	SocketPath string
	HTTPAddr   string // loopback-only status page address, e.g. "127.0.0.1:0"

	listener net.Listener
	cancel   context.CancelFunc
}

// Serve watches ProjectRoot, binds the Unix socket, and runs the
// accept loop until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context, projectRoot string) error {
	_ = os.Remove(d.SocketPath)
	ln, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return fmt.Errorf("undo: listen on %s: %w", d.SocketPath, err)
	}
	d.listener = ln
	defer ln.Close()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := walkAndWatch(d.Watcher, projectRoot); err != nil {
		return fmt.Errorf("undo: initial watch of %s: %w", projectRoot, err)
	}
	go func() {
		if err := d.Watcher.Run(runCtx); err != nil {
			slog.Warn("undo: watcher loop exited", "error", err)
		}
	}()

	if d.HTTPAddr != "" {
		go func() {
			if err := ServeStatus(runCtx, d.HTTPAddr, d.Store); err != nil {
				slog.Warn("undo: status page exited", "error", err)
			}
		}()
	}

	go func() {
		<-runCtx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(runCtx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("undo: accept: %w", err)
		}
		go d.handleConn(conn)
	}
}

// walkAndWatch registers every directory under root (fsnotify is not
// recursive).
func walkAndWatch(w *Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// Stop cancels the daemon's background loops and closes the listener.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}
	writeResponse(conn, d.dispatch(req))
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("undo: failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Warn("undo: failed to write response", "error", err)
	}
}

// Dial connects to a running undo daemon's socket with a short
// timeout, so a CLI client sees "missing daemon" as a fast failure
// rather than a hang.
func Dial(socketPath string) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, 2*time.Second)
}

func (d *Daemon) dispatch(req Request) Response {
	switch req.Op {
	case "timeline":
		entries, err := d.Store.Timeline.List(req.Limit, req.PathFilter)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Result: entries}
	case "last":
		entries, err := d.Store.Timeline.List(1, req.PathFilter)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		if len(entries) == 0 {
			return Response{OK: false, Error: "timeline is empty"}
		}
		return Response{OK: true, Result: entries[0]}
	case "checkpoint":
		cp, err := d.Store.Timeline.CreateCheckpoint(req.Name, req.Description)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Result: cp}
	case "to":
		if err := d.Store.Restore(req.EntryID); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true}
	case "prune":
		deleted, err := d.Store.Prune(req.RetainNewest)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Result: deleted}
	case "stop":
		d.Stop()
		return Response{OK: true}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
