// SPDX-License-Identifier: LGPL-3.0-or-later

package pgstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/sage/internal/hoststore"
)

const authCodeTTLSeconds = 30

// AuthCodeStore implements hoststore.AuthCodeRepository. Codes are stored
// only as their SHA-256 hash, never in plaintext.
type AuthCodeStore struct {
	db *pgxpool.Pool
}

func hashAuthCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Create implements hoststore.AuthCodeRepository.
func (a *AuthCodeStore) Create(ctx context.Context, hostID uuid.UUID, browserSessionID string) (string, error) {
	var buf [18]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("pgstore: generating auth code: %w", err)
	}
	code := hex.EncodeToString(buf[:])

	query := `
		INSERT INTO relay_auth_codes (code_hash, host_id, browser_session_id, expires_at)
		VALUES ($1, $2, $3, NOW() + ($4 || ' seconds')::interval)
	`
	if _, err := a.db.Exec(ctx, query, hashAuthCode(code), hostID, browserSessionID, authCodeTTLSeconds); err != nil {
		return "", fmt.Errorf("pgstore: creating auth code: %w", err)
	}
	return code, nil
}

// RedeemForHost implements hoststore.AuthCodeRepository. The update is a
// single statement so a concurrent redemption attempt can never win twice.
func (a *AuthCodeStore) RedeemForHost(ctx context.Context, code string, hostID uuid.UUID) (string, bool, error) {
	query := `
		UPDATE relay_auth_codes
		SET consumed_at = NOW()
		WHERE code_hash = $1 AND host_id = $2
		  AND consumed_at IS NULL AND expires_at > NOW()
		RETURNING browser_session_id
	`

	var browserSessionID string
	err := a.db.QueryRow(ctx, query, hashAuthCode(code), hostID).Scan(&browserSessionID)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pgstore: redeeming auth code: %w", err)
	}
	return browserSessionID, true, nil
}
