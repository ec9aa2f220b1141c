// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package wireio adapts a WebSocket message stream to the byte-oriented
// io.ReadWriteCloser contract a stream multiplexer needs. It concatenates
// inbound Text and Binary payloads into a read buffer, surfaces a Close
// frame as io.EOF, and emits exactly one Binary frame per Write call.
package wireio

import (
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps a *websocket.Conn so it can be driven by anything expecting an
// io.ReadWriteCloser, in particular a yamux session.
type Conn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	readBuf []byte
	eof     bool

	writeMu sync.Mutex
}

// New wraps ws for byte-stream use.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read implements io.Reader. It blocks on the underlying WebSocket until a
// Text or Binary frame arrives, buffering any leftover payload for the next
// call. A Close frame is surfaced as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.readBuf) == 0 {
		if c.eof {
			return 0, io.EOF
		}

		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.eof = true
				return 0, io.EOF
			}
			return 0, fmt.Errorf("wireio: reading frame: %w", err)
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.readBuf = append(c.readBuf, data...)
		case websocket.CloseMessage:
			c.eof = true
			return 0, io.EOF
		default:
			// Ping/pong are handled by gorilla's default handlers; ignore
			// anything else and keep waiting for data.
			continue
		}
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write implements io.Writer, emitting a single Binary frame per call.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("wireio: writing frame: %w", err)
	}
	return len(p), nil
}

// Close forwards to the underlying WebSocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
