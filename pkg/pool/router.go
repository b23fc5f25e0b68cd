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

package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// jsonrpcEnvelope is the minimal JSON-RPC 2.0 shape the router needs to
// read to correlate a response with its waiting caller; the payload
// itself is passed through opaque to callers.
type jsonrpcEnvelope struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// StartReader launches the stdout-reader goroutine for a raw
// JSON-RPC child (the language-server pool role; MCP tool-server
// children are instead owned end-to-end by mcp-go, see toolhub.go).
// Every framed message is parsed for an "id"; a message carrying one
// is routed to the waiting channel registered by Call, otherwise it is
// treated as a server-initiated notification and dropped after
// logging.
func (sv *Supervisor) StartReader(name string, reader *bufio.Reader) {
	sc, ok := sv.getChild(name)
	if !ok {
		return
	}
	for {
		raw, err := sc.Server.transport.ReadMessage(reader)
		if err != nil {
			slog.Warn("pool: reader exiting", "server", name, "error", err)
			return
		}
		var env jsonrpcEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("pool: malformed JSON-RPC message dropped", "server", name, "error", err)
			continue
		}
		if env.ID == nil {
			continue // notification; server records observe stderr only, not notifications
		}
		sc.Server.mu.Lock()
		ch, waiting := sc.Server.inflight[*env.ID]
		if waiting {
			delete(sc.Server.inflight, *env.ID)
		}
		sc.Server.mu.Unlock()
		if waiting {
			ch <- raw
		}
	}
}

// notify sends a JSON-RPC notification (no "id", no response expected)
// to name's child, used for the protocol's "exit" message at stop time.
func (sv *Supervisor) notify(name, method string, params any) error {
	sc, ok := sv.getChild(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	msg := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", Method: method, Params: params}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.Server.transport.WriteMessage(sc.stdin, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrChildNotStarted, err)
	}
	return sc.stdin.Flush()
}

func (sv *Supervisor) getChild(name string) (*supervisedChild, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sc, ok := sv.servers[name]
	return sc, ok
}

// Call sends a JSON-RPC request to name's child and blocks for its
// response, correlated by a monotonic per-server request ID, or
// returns ErrRequestTimeout if ctx is cancelled first.
func (sv *Supervisor) Call(ctx context.Context, name, method string, params any) (json.RawMessage, error) {
	sc, ok := sv.getChild(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	sc.Server.mu.Lock()
	sc.Server.nextRequestID++
	id := sc.Server.nextRequestID
	respCh := make(chan []byte, 1)
	sc.Server.inflight[id] = respCh
	sc.Server.mu.Unlock()

	req := struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	sc.writeMu.Lock()
	if err := sc.Server.transport.WriteMessage(sc.stdin, payload); err != nil {
		sc.writeMu.Unlock()
		sc.Server.mu.Lock()
		delete(sc.Server.inflight, id)
		sc.Server.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrChildNotStarted, err)
	}
	_ = sc.stdin.Flush()
	sc.writeMu.Unlock()

	sc.Server.markQueried()

	select {
	case raw := <-respCh:
		var env jsonrpcEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChildProtocol, err)
		}
		if len(env.Error) > 0 {
			return nil, fmt.Errorf("pool: server %s returned error: %s", name, env.Error)
		}
		return env.Result, nil
	case <-ctx.Done():
		sc.Server.mu.Lock()
		delete(sc.Server.inflight, id)
		sc.Server.mu.Unlock()
		return nil, ErrRequestTimeout
	}
}
