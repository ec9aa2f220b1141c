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

// Package relaymux exposes the relay's stream-multiplexing capability as a
// small interface backed by hashicorp/yamux. The rendezvous server always
// plays the role that originates logical streams ("client" in yamux terms,
// confusingly, since it is the half that calls OpenStream); the agent only
// ever accepts them. This mirrors the design note "server-originated
// streams only": the agent's session never calls Open itself.
package relaymux

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"
)

// Muxer is the abstract capability a single control-channel connection
// offers once a stream multiplexer has been started over it.
type Muxer interface {
	// OpenStream originates a new logical stream. Only the rendezvous side
	// calls this.
	OpenStream(ctx context.Context) (net.Conn, error)
	// AcceptStream waits for the next inbound logical stream. Only the
	// agent side calls this.
	AcceptStream(ctx context.Context) (net.Conn, error)
	// Done returns a channel that closes when the underlying session has
	// shut down, letting a caller that never calls AcceptStream (the
	// rendezvous server's control-channel handler) still detect when the
	// agent has disconnected.
	Done() <-chan struct{}
	Close() error
}

type session struct {
	s *yamux.Session
}

func config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	cfg.ConnectionWriteTimeout = 10 * time.Second
	return cfg
}

// NewServerMuxer starts a yamux session in the "client" (stream-originating)
// role over conn, used by the rendezvous server against an agent's
// control-channel WebSocket.
func NewServerMuxer(conn io.ReadWriteCloser) (Muxer, error) {
	s, err := yamux.Client(conn, config())
	if err != nil {
		return nil, fmt.Errorf("relaymux: starting server-role muxer: %w", err)
	}
	return &session{s: s}, nil
}

// NewAgentMuxer starts a yamux session in the "server" (stream-accepting)
// role over conn, used by the relay agent against its outbound control
// channel.
func NewAgentMuxer(conn io.ReadWriteCloser) (Muxer, error) {
	s, err := yamux.Server(conn, config())
	if err != nil {
		return nil, fmt.Errorf("relaymux: starting agent-role muxer: %w", err)
	}
	return &session{s: s}, nil
}

func (m *session) OpenStream(ctx context.Context) (net.Conn, error) {
	type result struct {
		stream net.Conn
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := m.s.OpenStream()
		done <- result{stream, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("relaymux: opening stream: %w", r.err)
		}
		return r.stream, nil
	}
}

func (m *session) AcceptStream(ctx context.Context) (net.Conn, error) {
	type result struct {
		stream net.Conn
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := m.s.AcceptStream()
		done <- result{stream, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("relaymux: accepting stream: %w", r.err)
		}
		return r.stream, nil
	}
}

func (m *session) Done() <-chan struct{} {
	return m.s.CloseChan()
}

func (m *session) Close() error {
	return m.s.Close()
}
