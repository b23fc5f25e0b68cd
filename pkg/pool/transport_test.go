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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineDelimitedTransportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tr := &LineDelimitedTransport{}
	require.NoError(t, tr.WriteMessage(&buf, []byte(`{"jsonrpc":"2.0","id":1}`)))

	reader := bufio.NewReader(&buf)
	msg, err := tr.ReadMessage(reader)
	require.NoError(t, err)
	require.Equal(t, `{"jsonrpc":"2.0","id":1}`, string(msg))
}

func TestLSPTransportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tr := &LSPTransport{}
	payload := []byte(`{"jsonrpc":"2.0","id":2,"method":"initialize"}`)
	require.NoError(t, tr.WriteMessage(&buf, payload))

	reader := bufio.NewReader(&buf)
	msg, err := tr.ReadMessage(reader)
	require.NoError(t, err)
	require.Equal(t, payload, msg)
}

func TestLSPTransportRejectsMissingContentLength(t *testing.T) {
	tr := &LSPTransport{}
	reader := bufio.NewReader(bytes.NewBufferString("X-Custom: value\r\n\r\n"))
	_, err := tr.ReadMessage(reader)
	require.ErrorIs(t, err, ErrChildProtocol)
}

func TestTransportForRole(t *testing.T) {
	_, ok := TransportFor(RoleLSP).(*LSPTransport)
	require.True(t, ok)
	_, ok = TransportFor(RoleToolHub).(*LineDelimitedTransport)
	require.True(t, ok)
}
