// SPDX-License-Identifier: LGPL-3.0-or-later

package pake

import "crypto/rand"

func cryptoRandRead(buf []byte) (int, error) {
	return rand.Read(buf)
}
