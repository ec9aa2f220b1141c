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

package pake

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// PendingEnrollmentTTL is how long a server-side SPAKE2 exchange stays
	// redeemable before it must be restarted.
	PendingEnrollmentTTL = 5 * time.Minute

	// RefreshNonceTTL is how long a refresh-proof nonce is remembered for
	// replay rejection.
	RefreshNonceTTL = 2 * time.Minute

	// RefreshMaxTimestampDriftSecs bounds how far a refresh proof's
	// timestamp may drift from the server's clock.
	RefreshMaxTimestampDriftSecs int64 = 30

	maxRefreshNonceLength = 128
)

// Error enumerates the ways the enrollment/refresh runtime can reject a
// request, distinct from the lower-level SPAKE2 math errors in spake2.go.
type Error int

const (
	ErrEnrollmentExpired Error = iota
	ErrEnrollmentCodeAlreadySet
	ErrEnrollmentCodeNotSet
	ErrEnrollmentCodeMismatch
	ErrTooManyRequests
	ErrBlankRefreshNonce
	ErrRefreshNonceTooLong
	ErrReplayedRefreshNonce
)

func (e Error) Error() string {
	switch e {
	case ErrEnrollmentExpired:
		return "pake: enrollment not found or expired"
	case ErrEnrollmentCodeAlreadySet:
		return "pake: an enrollment code is already active"
	case ErrEnrollmentCodeNotSet:
		return "pake: no enrollment code is active"
	case ErrEnrollmentCodeMismatch:
		return "pake: submitted enrollment code does not match the active one"
	case ErrTooManyRequests:
		return "pake: rate limit exceeded"
	case ErrBlankRefreshNonce:
		return "pake: refresh nonce must not be blank"
	case ErrRefreshNonceTooLong:
		return "pake: refresh nonce too long"
	case ErrReplayedRefreshNonce:
		return "pake: refresh nonce already used"
	default:
		return "pake: unknown runtime error"
	}
}

// PendingEnrollment is one in-flight SPAKE2 exchange awaiting the browser's
// key-confirmation proof.
type PendingEnrollment struct {
	SharedKey        []byte
	ServerMessageB64 string
	createdAt        time.Time
}

// Runtime tracks the enrollment/refresh state a relay-auth HTTP handler
// layer needs beyond the stateless SPAKE2 math: pending enrollments, the
// single active one-time enrollment code, per-bucket request rate limiting,
// and refresh-proof nonce replay protection. All methods are safe for
// concurrent use.
type Runtime struct {
	mu sync.Mutex

	enrollments     map[uuid.UUID]PendingEnrollment
	enrollmentCode  *string
	rateLimitBucket map[string][]time.Time
	refreshNonces   map[string]time.Time
}

// NewRuntime returns an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		enrollments:     make(map[uuid.UUID]PendingEnrollment),
		rateLimitBucket: make(map[string][]time.Time),
		refreshNonces:   make(map[string]time.Time),
	}
}

// StorePendingEnrollment records a fresh SPAKE2 server outcome under a new
// enrollment id.
func (r *Runtime) StorePendingEnrollment(sharedKey []byte, serverMessageB64 string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.enrollments[id] = PendingEnrollment{
		SharedKey:        sharedKey,
		ServerMessageB64: serverMessageB64,
		createdAt:        time.Now(),
	}
	return id
}

// TakePendingEnrollment removes and returns the enrollment for id if it
// exists and has not expired. It is single-use: a second call for the same
// id always misses, whether or not the first call succeeded.
func (r *Runtime) TakePendingEnrollment(id uuid.UUID) (PendingEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepEnrollmentsLocked()

	enrollment, ok := r.enrollments[id]
	delete(r.enrollments, id)
	if !ok {
		return PendingEnrollment{}, ErrEnrollmentExpired
	}
	return enrollment, nil
}

func (r *Runtime) sweepEnrollmentsLocked() {
	now := time.Now()
	for id, enrollment := range r.enrollments {
		if now.Sub(enrollment.createdAt) > PendingEnrollmentTTL {
			delete(r.enrollments, id)
		}
	}
}

// GetOrSetEnrollmentCode atomically installs code as the single active
// enrollment code if none is set, or returns the existing one untouched.
// The returned bool is true when code was just installed.
func (r *Runtime) GetOrSetEnrollmentCode(code string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enrollmentCode != nil {
		return *r.enrollmentCode, false
	}
	r.enrollmentCode = &code
	return code, true
}

// ConsumeEnrollmentCodeIfMatch clears the active enrollment code only if it
// equals submitted, returning nil on success. A submission that doesn't
// match the active code (or arrives when none is active) leaves the slot
// untouched and fails with ErrEnrollmentCodeNotSet/ErrEnrollmentCodeMismatch,
// so a garbled or guessed submission can never burn the legitimate
// browser's one-time code out from under it.
func (r *Runtime) ConsumeEnrollmentCodeIfMatch(submitted string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enrollmentCode == nil {
		return ErrEnrollmentCodeNotSet
	}
	if *r.enrollmentCode != submitted {
		return ErrEnrollmentCodeMismatch
	}
	r.enrollmentCode = nil
	return nil
}

// EnforceRateLimit applies a sliding-window limit to bucket: timestamps
// older than window are discarded, then the request is admitted only if
// fewer than maxRequests remain. Each bucket is independent, letting
// callers rate-limit per client id, per IP, or per endpoint as needed.
func (r *Runtime) EnforceRateLimit(bucket string, maxRequests int, window time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	kept := r.rateLimitBucket[bucket][:0]
	for _, at := range r.rateLimitBucket[bucket] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= maxRequests {
		r.rateLimitBucket[bucket] = kept
		return ErrTooManyRequests
	}

	r.rateLimitBucket[bucket] = append(kept, now)
	return nil
}

// ClaimRefreshNonce rejects a blank or oversize nonce outright, then
// atomically checks-and-inserts it into the replay set, sweeping expired
// entries along the way.
func (r *Runtime) ClaimRefreshNonce(nonce string) error {
	if nonce == "" {
		return ErrBlankRefreshNonce
	}
	if len(nonce) > maxRefreshNonceLength {
		return ErrRefreshNonceTooLong
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for n, seenAt := range r.refreshNonces {
		if now.Sub(seenAt) > RefreshNonceTTL {
			delete(r.refreshNonces, n)
		}
	}

	if _, seen := r.refreshNonces[nonce]; seen {
		return ErrReplayedRefreshNonce
	}
	r.refreshNonces[nonce] = now
	return nil
}

// BuildRefreshMessage returns the canonical string a trusted client signs
// to prove continued possession of its enrolled Ed25519 key when refreshing
// a signing session.
func BuildRefreshMessage(timestamp int64, nonce string, clientID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("v1|refresh|%d|%s|%s", timestamp, nonce, clientID))
}

// ValidateRefreshTimestamp rejects a refresh proof whose timestamp has
// drifted more than RefreshMaxTimestampDriftSecs from the server's clock.
func ValidateRefreshTimestamp(timestamp int64) error {
	now := time.Now().Unix()
	drift := now - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > RefreshMaxTimestampDriftSecs {
		return ErrTimestampOutOfDriftRefresh
	}
	return nil
}

// ErrTimestampOutOfDriftRefresh mirrors relaysign's drift rejection for the
// refresh-proof path, which has its own (looser) canonical message format
// and so cannot share relaysign's ValidationError type directly.
var ErrTimestampOutOfDriftRefresh = fmt.Errorf("pake: refresh timestamp outside drift window")
