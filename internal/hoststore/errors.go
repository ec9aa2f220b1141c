// SPDX-License-Identifier: LGPL-3.0-or-later

package hoststore

import "errors"

// Sentinel errors every repository implementation returns for the same
// condition, so callers in internal/authsvc and the rendezvous handlers can
// branch on errors.Is regardless of which backing store is wired in.
var (
	ErrNotFound     = errors.New("hoststore: not found")
	ErrExpired      = errors.New("hoststore: expired")
	ErrNotConnected = errors.New("hoststore: host not connected")
	ErrAccessDenied = errors.New("hoststore: access denied")
)
