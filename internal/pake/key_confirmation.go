// SPDX-License-Identifier: LGPL-3.0-or-later

package pake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	keyConfirmationInfo = "key-confirmation"
	clientProofContext  = "rt-spake2-client-proof-v1"
	serverProofContext  = "rt-spake2-server-proof-v1"
)

// DeriveConfirmationKey expands a SPAKE2 shared key into a 32-byte
// confirmation key via HKDF-SHA256 with no salt.
func DeriveConfirmationKey(sharedKey []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, sharedKey, nil, []byte(keyConfirmationInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyClientProof checks the browser's HMAC proof binding its freshly
// generated Ed25519 public key to this enrollment.
//
// client proof = HMAC(confirmation_key, CLIENT_CONTEXT || enrollment_id || browser_pk)
func VerifyClientProof(sharedKey []byte, enrollmentID uuid.UUID, browserPublicKey []byte, providedProofB64 string) error {
	provided, err := base64.StdEncoding.DecodeString(providedProofB64)
	if err != nil {
		return errors.New("pake: invalid client proof encoding")
	}

	confirmationKey, err := DeriveConfirmationKey(sharedKey)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, confirmationKey)
	mac.Write([]byte(clientProofContext))
	mac.Write(enrollmentID[:])
	mac.Write(browserPublicKey)

	if !hmac.Equal(mac.Sum(nil), provided) {
		return errors.New("pake: invalid client proof")
	}
	return nil
}

// BuildClientProof builds the browser's HMAC proof binding its freshly
// generated Ed25519 public key to this enrollment, the counterpart
// VerifyClientProof checks server-side. Production browsers compute this in
// JavaScript; this export lets Go tests drive a genuine client proof.
//
// client proof = HMAC(confirmation_key, CLIENT_CONTEXT || enrollment_id || browser_pk)
func BuildClientProof(sharedKey []byte, enrollmentID uuid.UUID, browserPublicKey []byte) (string, error) {
	confirmationKey, err := DeriveConfirmationKey(sharedKey)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, confirmationKey)
	mac.Write([]byte(clientProofContext))
	mac.Write(enrollmentID[:])
	mac.Write(browserPublicKey)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// BuildServerProof builds the server's HMAC proof binding both the
// browser's and the server's Ed25519 public keys to this enrollment.
//
// server proof = HMAC(confirmation_key, SERVER_CONTEXT || enrollment_id || browser_pk || server_pk)
func BuildServerProof(sharedKey []byte, enrollmentID uuid.UUID, browserPublicKey, serverPublicKey []byte) (string, error) {
	confirmationKey, err := DeriveConfirmationKey(sharedKey)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, confirmationKey)
	mac.Write([]byte(serverProofContext))
	enrollmentBytes := enrollmentID
	mac.Write(enrollmentBytes[:])
	mac.Write(browserPublicKey)
	mac.Write(serverPublicKey)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
