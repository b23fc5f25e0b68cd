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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/daedalos/daedalos/pkg/backupstore"
	"github.com/daedalos/daedalos/pkg/paths"
	"github.com/daedalos/daedalos/pkg/undo"
)

// defaultMaxBlobBytes caps any single backed-up file; larger writes are
// recorded in the timeline without a retrievable blob.
const defaultMaxBlobBytes = 50 * 1024 * 1024

// UndoCmd groups the backup-store/timeline subcommands. Every
// subcommand except Serve opens the store directly rather than talking
// to a running daemon: the SQLite timeline is safe for a short-lived
// reader to open alongside a live daemon.
type UndoCmd struct {
	Timeline   UndoTimelineCmd   `cmd:"" help:"List recorded changes."`
	Last       UndoLastCmd       `cmd:"" help:"Show the most recent recorded change."`
	Checkpoint UndoCheckpointCmd `cmd:"" help:"Record a named checkpoint over the current timeline."`
	To         UndoToCmd         `cmd:"" help:"Restore a file to a prior timeline entry."`
	Prune      UndoPruneCmd      `cmd:"" help:"Delete backup blobs no longer referenced by the retained newest entries."`
	Serve      UndoServeCmd      `cmd:"" help:"Run the undo daemon: watch a project and record every change."`

	Project string `help:"Project name the timeline is scoped under." default:"default"`
	WorkDir string `name:"work-dir" help:"Project root." type:"path" default:"."`
}

func (u *UndoCmd) open() (*backupstore.Store, error) {
	stateDir, err := paths.StateDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(stateDir, "undo", u.Project)
	return backupstore.Open(dir, u.Project, defaultMaxBlobBytes)
}

// UndoTimelineCmd lists recorded timeline entries, newest first.
type UndoTimelineCmd struct {
	Limit int    `short:"n" help:"Maximum entries to show (0 = unbounded)." default:"50"`
	Path  string `help:"Restrict to a single file path."`
}

func (c *UndoTimelineCmd) Run(cli *CLI, u *UndoCmd) error {
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.Timeline.List(c.Limit, c.Path)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

// UndoLastCmd shows the single most recent timeline entry.
type UndoLastCmd struct{}

func (c *UndoLastCmd) Run(cli *CLI, u *UndoCmd) error {
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()
	entries, err := store.Timeline.List(1, "")
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("undo: timeline is empty")
	}
	return printJSON(entries[0])
}

// UndoCheckpointCmd records a named checkpoint over the current
// timeline's entries, so a later "undo to" can target a milestone
// rather than a raw per-file entry ID.
type UndoCheckpointCmd struct {
	Name        string `arg:"" help:"Checkpoint name."`
	Description string `help:"Optional description."`
}

func (c *UndoCheckpointCmd) Run(cli *CLI, u *UndoCmd) error {
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()
	cp, err := store.Timeline.CreateCheckpoint(c.Name, c.Description)
	if err != nil {
		return err
	}
	return printJSON(cp)
}

// UndoToCmd restores a file to the content recorded at one timeline
// entry.
type UndoToCmd struct {
	EntryID string `arg:"" help:"Timeline entry ID to restore."`
}

func (c *UndoToCmd) Run(cli *CLI, u *UndoCmd) error {
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Restore(c.EntryID); err != nil {
		return err
	}
	fmt.Printf("restored entry %s\n", c.EntryID)
	return nil
}

// UndoPruneCmd deletes backup blobs no longer referenced by the
// retained newest entries. Destructive; never runs unless invoked
// explicitly (see Store.Prune's doc comment).
type UndoPruneCmd struct {
	RetainNewest int `name:"retain-newest" required:"" help:"Number of newest timeline entries whose blobs are kept."`
}

func (c *UndoPruneCmd) Run(cli *CLI, u *UndoCmd) error {
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()
	deleted, err := store.Prune(c.RetainNewest)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d blob(s)\n", deleted)
	return nil
}

// UndoServeCmd runs the undo daemon in the foreground: it watches
// WorkDir recursively and records every change to the timeline, while
// serving timeline/checkpoint/restore requests over a Unix socket.
type UndoServeCmd struct {
	HTTPAddr string `name:"http-addr" help:"Loopback read-only status page address (empty disables it)."`
}

func (c *UndoServeCmd) Run(cli *CLI, u *UndoCmd) error {
	absRoot, err := filepath.Abs(u.WorkDir)
	if err != nil {
		return err
	}
	store, err := u.open()
	if err != nil {
		return err
	}
	defer store.Close()

	watcher, err := undo.NewWatcher(store)
	if err != nil {
		return err
	}

	socketPath, err := paths.SocketPath("undo")
	if err != nil {
		return err
	}

	d := &undo.Daemon{Store: store, Watcher: watcher, SocketPath: socketPath, HTTPAddr: c.HTTPAddr}

	release, err := acquirePIDFile("undo")
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchInterrupt(cancel)

	fmt.Printf("undo daemon serving %s on %s\n", absRoot, socketPath)
	return d.Serve(ctx, absRoot)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
