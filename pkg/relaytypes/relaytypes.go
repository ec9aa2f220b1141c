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

// Package relaytypes holds the wire DTOs shared by the rendezvous server's
// HTTP handlers and the relay agent's client code.
package relaytypes

import "github.com/google/uuid"

// GenerateEnrollmentCodeResponse is returned by POST /relay-auth/enrollment-code.
type GenerateEnrollmentCodeResponse struct {
	EnrollmentCode string `json:"enrollment_code"`
}

// StartSpake2EnrollmentRequest is the body of POST /relay-auth/spake2/start.
type StartSpake2EnrollmentRequest struct {
	EnrollmentCode   string `json:"enrollment_code"`
	ClientMessageB64 string `json:"client_message_b64"`
}

// StartSpake2EnrollmentResponse is the response to StartSpake2EnrollmentRequest.
type StartSpake2EnrollmentResponse struct {
	EnrollmentID    uuid.UUID `json:"enrollment_id"`
	ServerMessageB64 string   `json:"server_message_b64"`
}

// FinishSpake2EnrollmentRequest is the body of POST /relay-auth/spake2/finish.
type FinishSpake2EnrollmentRequest struct {
	EnrollmentID   uuid.UUID `json:"enrollment_id"`
	ClientID       uuid.UUID `json:"client_id"`
	ClientName     string    `json:"client_name"`
	ClientBrowser  string    `json:"client_browser"`
	ClientOS       string    `json:"client_os"`
	ClientDevice   string    `json:"client_device"`
	PublicKeyB64   string    `json:"public_key_b64"`
	ClientProofB64 string    `json:"client_proof_b64"`
}

// FinishSpake2EnrollmentResponse is the response to FinishSpake2EnrollmentRequest.
type FinishSpake2EnrollmentResponse struct {
	SigningSessionID  uuid.UUID `json:"signing_session_id"`
	ServerPublicKeyB64 string   `json:"server_public_key_b64"`
	ServerProofB64    string    `json:"server_proof_b64"`
}

// RelayPairedClient describes one previously enrolled browser.
type RelayPairedClient struct {
	ClientID      uuid.UUID `json:"client_id"`
	ClientName    string    `json:"client_name"`
	ClientBrowser string    `json:"client_browser"`
	ClientOS      string    `json:"client_os"`
	ClientDevice  string    `json:"client_device"`
}

// ListRelayPairedClientsResponse is the response to GET /relay-auth/clients.
type ListRelayPairedClientsResponse struct {
	Clients []RelayPairedClient `json:"clients"`
}

// RemoveRelayPairedClientResponse is the response to DELETE /relay-auth/clients/{id}.
type RemoveRelayPairedClientResponse struct {
	Removed bool `json:"removed"`
}

// RefreshRelaySigningSessionRequest is the body of POST /relay-auth/signing-session/refresh.
type RefreshRelaySigningSessionRequest struct {
	ClientID     uuid.UUID `json:"client_id"`
	Timestamp    int64     `json:"timestamp"`
	Nonce        string    `json:"nonce"`
	SignatureB64 string    `json:"signature_b64"`
}

// RefreshRelaySigningSessionResponse is the response to RefreshRelaySigningSessionRequest.
type RefreshRelaySigningSessionResponse struct {
	SigningSessionID uuid.UUID `json:"signing_session_id"`
}

// ConnectQuery describes the agent's control-channel upgrade query parameters.
type ConnectQuery struct {
	MachineID    string  `json:"machine_id"`
	Name         string  `json:"name"`
	AgentVersion *string `json:"agent_version,omitempty"`
}

// RelaySessionAuthCodeResponse is returned when a browser exchanges an
// authenticated session for a one-time relay auth code.
type RelaySessionAuthCodeResponse struct {
	AuthCode string `json:"auth_code"`
}

// APIResponse is the generic success/error envelope every handler returns,
// matching the original's utils::response::ApiResponse wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success wraps a payload in a successful APIResponse.
func Success[T any](data T) APIResponse[T] {
	return APIResponse[T]{Success: true, Data: &data}
}

// Failure wraps an error message in a failed APIResponse.
func Failure[T any](message string) APIResponse[T] {
	return APIResponse[T]{Success: false, Error: message}
}
