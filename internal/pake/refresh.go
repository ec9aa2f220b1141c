// SPDX-License-Identifier: LGPL-3.0-or-later

package pake

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// VerifyRefreshSignature checks a trusted client's Ed25519 signature over a
// refresh message built by BuildRefreshMessage.
func VerifyRefreshSignature(publicKey ed25519.PublicKey, message []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return errors.New("pake: invalid refresh signature encoding")
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return errors.New("pake: invalid refresh signature")
	}
	return nil
}
