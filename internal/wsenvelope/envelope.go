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

// Package wsenvelope wraps every WebSocket frame exchanged with a signed
// browser session in a signed, sequence-numbered JSON envelope, closing
// the same replay and tamper gap request signing closes for ordinary
// HTTP calls.
package wsenvelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/relaysign"
)

const envelopeVersion = 1

// MessageType mirrors the frame kinds a gorilla/websocket connection can
// produce, so a close or ping/pong is signed exactly like a data frame.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageBinary MessageType = "binary"
	MessagePing   MessageType = "ping"
	MessagePong   MessageType = "pong"
	MessageClose  MessageType = "close"
)

var (
	ErrUnsupportedVersion = errors.New("wsenvelope: unsupported envelope version")
	ErrSequenceMismatch   = errors.New("wsenvelope: out-of-order sequence number")
	ErrInvalidEnvelope    = errors.New("wsenvelope: invalid envelope")
)

// envelope is the wire JSON shape of one signed frame.
type envelope struct {
	Version      int         `json:"version"`
	Seq          uint64      `json:"seq"`
	MsgType      MessageType `json:"msg_type"`
	PayloadB64   string      `json:"payload_b64"`
	SignatureB64 string      `json:"signature_b64"`
}

// State tracks one signing-session's per-direction sequence counters over
// the lifetime of a single WebSocket connection. It is not safe for
// concurrent use from more than one goroutine per direction.
type State struct {
	SigningSessionID uuid.UUID
	RequestNonce     string
	inboundSeq       uint64
	outboundSeq      uint64
}

// NewState starts a fresh envelope sequence for a signed WebSocket
// session, as established by the relay request signature on the
// connect/exchange HTTP request that was upgraded.
func NewState(sessionID uuid.UUID, requestNonce string) *State {
	return &State{SigningSessionID: sessionID, RequestNonce: requestNonce}
}

func signingInput(sessionID uuid.UUID, requestNonce string, seq uint64, msgType MessageType, payload []byte) []byte {
	sum := sha256.Sum256(payload)
	payloadHash := base64.StdEncoding.EncodeToString(sum[:])
	return []byte(fmt.Sprintf("v1|%s|%s|%d|%s|%s", sessionID, requestNonce, seq, msgType, payloadHash))
}

// Build signs payload as the next outbound frame and returns the bytes to
// send as a single WebSocket binary message.
func Build(svc *relaysign.Service, st *State, msgType MessageType, payload []byte) ([]byte, error) {
	seq := st.outboundSeq + 1
	message := signingInput(st.SigningSessionID, st.RequestNonce, seq, msgType, payload)

	signature, err := svc.SignMessage(st.SigningSessionID, message)
	if err != nil {
		return nil, fmt.Errorf("wsenvelope: signing frame: %w", err)
	}

	env := envelope{
		Version:      envelopeVersion,
		Seq:          seq,
		MsgType:      msgType,
		PayloadB64:   base64.StdEncoding.EncodeToString(payload),
		SignatureB64: signature,
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wsenvelope: marshaling envelope: %w", err)
	}

	st.outboundSeq = seq
	return encoded, nil
}

// Decoded is a verified, unwrapped inbound frame.
type Decoded struct {
	MsgType MessageType
	Payload []byte
}

// Decode verifies raw as the next expected inbound frame for st: version,
// strict sequence continuity (no gaps, no resync), and Ed25519 signature.
func Decode(svc *relaysign.Service, st *State, raw []byte) (Decoded, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Version != envelopeVersion {
		return Decoded{}, ErrUnsupportedVersion
	}

	expectedSeq := st.inboundSeq + 1
	if env.Seq != expectedSeq {
		return Decoded{}, fmt.Errorf("%w: expected %d, got %d", ErrSequenceMismatch, expectedSeq, env.Seq)
	}

	payload, err := base64.StdEncoding.DecodeString(env.PayloadB64)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: invalid payload: %v", ErrInvalidEnvelope, err)
	}

	message := signingInput(st.SigningSessionID, st.RequestNonce, env.Seq, env.MsgType, payload)
	if err := svc.VerifySignature(st.SigningSessionID, message, env.SignatureB64); err != nil {
		return Decoded{}, fmt.Errorf("wsenvelope: invalid frame signature: %w", err)
	}

	st.inboundSeq = env.Seq

	if env.MsgType == MessageText && !utf8.Valid(payload) {
		return Decoded{}, fmt.Errorf("%w: invalid UTF-8 text frame", ErrInvalidEnvelope)
	}

	return Decoded{MsgType: env.MsgType, Payload: payload}, nil
}

// EncodeClosePayload packs a WebSocket close code and reason the same way
// the signed envelope's close frame payload is built: 2-byte big-endian
// code followed by the UTF-8 reason.
func EncodeClosePayload(code uint16, reason string) []byte {
	if code == 0 && reason == "" {
		return nil
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return payload
}

// DecodeClosePayload reverses EncodeClosePayload. An empty payload means
// no close frame was sent (ok=false).
func DecodeClosePayload(payload []byte) (code uint16, reason string, ok bool, err error) {
	if len(payload) == 0 {
		return 0, "", false, nil
	}
	if len(payload) < 2 {
		return 0, "", false, fmt.Errorf("%w: invalid close payload", ErrInvalidEnvelope)
	}
	if !utf8.Valid(payload[2:]) {
		return 0, "", false, fmt.Errorf("%w: invalid UTF-8 close frame reason", ErrInvalidEnvelope)
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:]), true, nil
}
