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

// Package pake implements the SPAKE2-over-Ed25519 enrollment handshake: a
// browser proves knowledge of a short one-time enrollment code, the server
// (always playing the "B" role) responds with its own blinded message, and
// both sides derive a shared key used only to bind the browser's freshly
// generated Ed25519 keypair via HMAC key-confirmation proofs.
package pake

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
)

const (
	spake2ClientID = "relaytunnel-browser"
	spake2ServerID = "relaytunnel-server"

	// EnrollmentCodeLength is the number of characters in a one-time
	// enrollment code.
	EnrollmentCodeLength  = 6
	enrollmentCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	spake2SharedKeyContext = "relaytunnel-spake2-v1"
)

var (
	pointM = derivePoint("relaytunnel-spake2-M")
	pointN = derivePoint("relaytunnel-spake2-N")
)

// derivePoint deterministically produces a NUMS (nothing-up-my-sleeve) curve
// point for label via try-and-increment: SHA-512(label-n) is treated as a
// candidate compressed point until one decodes successfully.
func derivePoint(label string) *edwards25519.Point {
	for counter := 0; ; counter++ {
		h := sha512.Sum512([]byte(fmt.Sprintf("%s-%d", label, counter)))
		if p, err := new(edwards25519.Point).SetBytes(h[:32]); err == nil {
			return p
		}
	}
}

// StartOutcome is the result of the server's half of a SPAKE2 exchange.
type StartOutcome struct {
	EnrollmentCode   string
	SharedKey        []byte
	ServerMessageB64 string
}

// StartServer runs the server ("B") side of SPAKE2 against a raw enrollment
// code and the browser's base64-encoded client message, returning the
// server's response message and the derived (unconfirmed) shared key.
func StartServer(rawEnrollmentCode, clientMessageB64 string) (*StartOutcome, error) {
	enrollmentCode, err := NormalizeEnrollmentCode(rawEnrollmentCode)
	if err != nil {
		return nil, err
	}

	clientMessage, err := base64.StdEncoding.DecodeString(clientMessageB64)
	if err != nil || len(clientMessage) != 32 {
		return nil, errors.New("pake: invalid client_message_b64")
	}
	clientPoint, err := new(edwards25519.Point).SetBytes(clientMessage)
	if err != nil {
		return nil, errors.New("pake: client message is not a valid curve point")
	}

	w := passwordScalar(enrollmentCode)

	y, err := randomScalar()
	if err != nil {
		return nil, err
	}

	// Server message: T = y*G + w*N
	serverPoint := new(edwards25519.Point).ScalarBaseMult(y)
	wN := new(edwards25519.Point).ScalarMult(w, pointN)
	serverPoint = new(edwards25519.Point).Add(serverPoint, wN)

	// K = y*(X - w*M)
	wM := new(edwards25519.Point).ScalarMult(w, pointM)
	blinded := new(edwards25519.Point).Subtract(clientPoint, wM)
	sharedPoint := new(edwards25519.Point).ScalarMult(y, blinded)

	sharedKey := deriveSharedKey(clientMessage, serverPoint.Bytes(), sharedPoint.Bytes())

	return &StartOutcome{
		EnrollmentCode:   enrollmentCode,
		SharedKey:        sharedKey,
		ServerMessageB64: base64.StdEncoding.EncodeToString(serverPoint.Bytes()),
	}, nil
}

// ClientHandshake holds the client ("A") role state between StartClient and
// Finish. Production browsers run this half of the exchange in JavaScript;
// this type exists so Go tests can drive both sides of the protocol to
// exercise StartServer against a genuine peer.
type ClientHandshake struct {
	x *edwards25519.Scalar
	w *edwards25519.Scalar
}

// StartClient runs the client ("A") side of SPAKE2 against a raw enrollment
// code, returning the handshake state and the base64 client message to send
// to StartServer.
func StartClient(rawEnrollmentCode string) (*ClientHandshake, string, error) {
	enrollmentCode, err := NormalizeEnrollmentCode(rawEnrollmentCode)
	if err != nil {
		return nil, "", err
	}

	x, err := randomScalar()
	if err != nil {
		return nil, "", err
	}
	w := passwordScalar(enrollmentCode)

	// Client message: X = x*G + w*M
	clientPoint := new(edwards25519.Point).ScalarBaseMult(x)
	wM := new(edwards25519.Point).ScalarMult(w, pointM)
	clientPoint = new(edwards25519.Point).Add(clientPoint, wM)

	return &ClientHandshake{x: x, w: w}, base64.StdEncoding.EncodeToString(clientPoint.Bytes()), nil
}

// Finish completes the client side of the exchange StartClient began, given
// the client's own message and the server's response, deriving the same
// shared key StartServer derived.
func (c *ClientHandshake) Finish(clientMessageB64, serverMessageB64 string) ([]byte, error) {
	clientMessage, err := base64.StdEncoding.DecodeString(clientMessageB64)
	if err != nil || len(clientMessage) != 32 {
		return nil, errors.New("pake: invalid client_message_b64")
	}
	serverMessage, err := base64.StdEncoding.DecodeString(serverMessageB64)
	if err != nil || len(serverMessage) != 32 {
		return nil, errors.New("pake: invalid server_message_b64")
	}
	serverPoint, err := new(edwards25519.Point).SetBytes(serverMessage)
	if err != nil {
		return nil, errors.New("pake: server message is not a valid curve point")
	}

	// K = x*(T - w*N)
	wN := new(edwards25519.Point).ScalarMult(c.w, pointN)
	blinded := new(edwards25519.Point).Subtract(serverPoint, wN)
	sharedPoint := new(edwards25519.Point).ScalarMult(c.x, blinded)

	return deriveSharedKey(clientMessage, serverMessage, sharedPoint.Bytes()), nil
}

func deriveSharedKey(clientMessage, serverMessage, sharedElement []byte) []byte {
	h := sha256.New()
	h.Write([]byte(spake2SharedKeyContext))
	h.Write([]byte(spake2ClientID))
	h.Write([]byte(spake2ServerID))
	h.Write(clientMessage)
	h.Write(serverMessage)
	h.Write(sharedElement)
	return h.Sum(nil)
}

func passwordScalar(password string) *edwards25519.Scalar {
	digest := sha512.Sum512([]byte(password))
	s, err := new(edwards25519.Scalar).SetUniformBytes(digest[:])
	if err != nil {
		// SetUniformBytes only fails if given != 64 bytes; sha512 always
		// produces exactly 64.
		panic(err)
	}
	return s
}

func randomScalar() (*edwards25519.Scalar, error) {
	buf := make([]byte, 64)
	if _, err := cryptoRandRead(buf); err != nil {
		return nil, fmt.Errorf("pake: generating random scalar: %w", err)
	}
	return new(edwards25519.Scalar).SetUniformBytes(buf)
}

// GenerateOneTimeCode returns a fresh random enrollment code drawn from the
// same charset NormalizeEnrollmentCode accepts.
func GenerateOneTimeCode() (string, error) {
	var sb strings.Builder
	sb.Grow(EnrollmentCodeLength)
	idx := make([]byte, EnrollmentCodeLength)
	if _, err := cryptoRandRead(idx); err != nil {
		return "", fmt.Errorf("pake: generating enrollment code: %w", err)
	}
	for _, b := range idx {
		sb.WriteByte(enrollmentCodeCharset[int(b)%len(enrollmentCodeCharset)])
	}
	return sb.String(), nil
}

// NormalizeEnrollmentCode upper-cases and validates a raw enrollment code.
func NormalizeEnrollmentCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != EnrollmentCodeLength {
		return "", fmt.Errorf("pake: enrollment code must be %d characters", EnrollmentCodeLength)
	}
	for _, r := range code {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return "", errors.New("pake: enrollment code must contain only A-Z and 0-9")
		}
	}
	return code, nil
}
