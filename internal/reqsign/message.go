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

// Package reqsign is the HTTP middleware pair that verifies a relayed
// request's Ed25519 signature and counter-signs the response, using
// internal/relaysign as the trust anchor.
package reqsign

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	RelayHeader            = "x-vk-relayed"
	SigningSessionHeader   = "x-vk-sig-session"
	TimestampHeader        = "x-vk-sig-ts"
	NonceHeader            = "x-vk-sig-nonce"
	RequestSignatureHeader = "x-vk-sig-signature"

	ResponseTimestampHeader = "x-vk-resp-ts"
	ResponseNonceHeader     = "x-vk-resp-nonce"
	ResponseSignatureHeader = "x-vk-resp-signature"
)

func bodyHashB64(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// buildRequestMessage reproduces the canonical string a browser signs over
// a relayed request: v1|{ts}|{method}|{path_and_query}|{session_id}|{nonce}|{body_hash}
func buildRequestMessage(timestamp int64, method, pathAndQuery string, sessionID uuid.UUID, nonce string, body []byte) []byte {
	return []byte(fmt.Sprintf("v1|%d|%s|%s|%s|%s|%s",
		timestamp, method, pathAndQuery, sessionID, nonce, bodyHashB64(body)))
}

// buildResponseMessage reproduces the canonical string the server signs
// over a relayed response:
// v1|{ts}|{status}|{path_and_query}|{session_id}|{request_nonce}|{response_nonce}|{body_hash}
func buildResponseMessage(timestamp int64, status int, pathAndQuery string, sessionID uuid.UUID, requestNonce, responseNonce string, body []byte) []byte {
	return []byte(fmt.Sprintf("v1|%d|%d|%s|%s|%s|%s|%s",
		timestamp, status, pathAndQuery, sessionID, requestNonce, responseNonce, bodyHashB64(body)))
}

// IsRelayRequest reports whether the x-vk-relayed header marks r as a
// relayed request needing signature verification. Ordinary rendezvous
// traffic (control channel, auth endpoints) never carries this header.
func IsRelayRequest(headerValue string) bool {
	return strings.TrimSpace(headerValue) == "1"
}
