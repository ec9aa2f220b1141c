// SPDX-License-Identifier: LGPL-3.0-or-later

package relayproxy

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
)

// ServeStream runs handler against the HTTP/1.1 requests arriving over a
// single net.Conn (a yamux stream), returning once the stream closes. It
// exists because net/http.Server only runs against a net.Listener; wrapping
// one already-accepted connection in a listener that yields it exactly
// once is the standard way to reuse the stdlib's request parsing,
// keep-alive and Hijacker support for a connection that didn't come from
// a real TCP listener.
func ServeStream(stream net.Conn, handler http.Handler) error {
	listener := &singleConnListener{conn: stream, done: make(chan struct{})}
	srv := &http.Server{Handler: handler}

	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, errSingleConnDone) {
		return nil
	}
	return err
}

var errSingleConnDone = errors.New("relayproxy: single connection closed")

// singleConnListener hands out exactly one connection to Accept, then
// blocks until that connection is closed before reporting the listener
// itself as done.
type singleConnListener struct {
	conn     net.Conn
	done     chan struct{}
	once     sync.Once
	accepted bool
	mu       sync.Mutex
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return &notifyCloseConn{Conn: l.conn, done: l.done, once: &l.once}, nil
	}
	l.mu.Unlock()

	<-l.done
	return nil, errSingleConnDone
}

func (l *singleConnListener) Close() error { return nil }

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

// notifyCloseConn closes the listener's done channel the first time the
// wrapped connection is closed, so a blocked second Accept call can return.
type notifyCloseConn struct {
	net.Conn
	done chan struct{}
	once *sync.Once
}

func (c *notifyCloseConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.done) })
	return err
}

var _ io.Closer = (*notifyCloseConn)(nil)
