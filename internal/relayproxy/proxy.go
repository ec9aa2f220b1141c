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

// Package relayproxy speaks HTTP/1.1 over an arbitrary io.ReadWriteCloser
// in both directions the relay needs it: the rendezvous server proxying a
// browser request onto a yamux stream opened against an agent, and the
// agent proxying an inbound yamux stream onto its local loopback server.
// Both are the same operation — forward one HTTP request onto a backend
// connection and copy its response back, splicing raw bytes instead of
// forwarding a response body when the backend switches protocols.
package relayproxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotHijackable is returned when w does not support hijacking its
// underlying connection, which a 101 Switching Protocols response needs.
var ErrNotHijackable = errors.New("relayproxy: response writer does not support hijacking")

// RewritePath rewrites an inbound request's path before it is forwarded to
// backend, e.g. stripping a routing prefix. The query string is preserved
// unchanged by the caller.
type RewritePath func(path string) string

// Request forwards r to backend as an HTTP/1.1 request — rewriting its
// path via rewrite, method and headers otherwise untouched — then copies
// backend's response back through w. A 101 Switching Protocols response is
// spliced bidirectionally between w's hijacked connection and backend
// instead of being forwarded as an ordinary response body.
func Request(w http.ResponseWriter, r *http.Request, backend io.ReadWriteCloser, rewrite RewritePath) error {
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	outReq.Close = false
	outReq.URL = rewriteURL(r.URL, rewrite(r.URL.Path))

	if err := outReq.Write(backend); err != nil {
		return fmt.Errorf("relayproxy: writing upstream request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(backend), outReq)
	if err != nil {
		return fmt.Errorf("relayproxy: reading upstream response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusSwitchingProtocols {
		return spliceUpgrade(w, resp, backend)
	}

	header := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

func rewriteURL(original *url.URL, path string) *url.URL {
	if path == "" {
		path = "/"
	}
	cp := *original
	cp.Path = path
	cp.RawPath = ""
	return &cp
}

// spliceUpgrade hijacks w's client connection, relays the 101 response
// onto it verbatim, then copies raw bytes in both directions until either
// side closes.
func spliceUpgrade(w http.ResponseWriter, resp *http.Response, backend io.ReadWriteCloser) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return ErrNotHijackable
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return fmt.Errorf("relayproxy: hijacking client connection: %w", err)
	}
	defer clientConn.Close()

	if err := resp.Write(clientConn); err != nil {
		return fmt.Errorf("relayproxy: writing upgrade response: %w", err)
	}

	errs := make(chan error, 2)
	go func() {
		_, err := io.Copy(backend, clientBuf)
		errs <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, backend)
		errs <- err
	}()
	<-errs
	return nil
}

// StripPrefix returns a RewritePath that removes prefix from an inbound
// path, treating an exact or over-stripped match as "/".
func StripPrefix(prefix string) RewritePath {
	return func(path string) string {
		if !strings.HasPrefix(path, prefix) {
			return path
		}
		trimmed := strings.TrimPrefix(path, prefix)
		if trimmed == "" {
			return "/"
		}
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		return trimmed
	}
}

// Identity is a RewritePath that leaves the path untouched.
func Identity(path string) string { return path }
