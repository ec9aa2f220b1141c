// SPDX-License-Identifier: LGPL-3.0-or-later

package memstore

import "github.com/sage-x-project/sage/internal/hoststore"

var (
	_ hoststore.HostRepository          = (*HostStore)(nil)
	_ hoststore.AuthCodeRepository      = (*AuthCodeStore)(nil)
	_ hoststore.BrowserSessionRepository = (*BrowserSessionStore)(nil)
	_ hoststore.AuthSessionRepository   = (*AuthSessionStore)(nil)
	_ hoststore.UserRepository          = (*UserStore)(nil)
)
