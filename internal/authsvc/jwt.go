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

// Package authsvc decodes relay access tokens and resolves the auth
// session and user behind a request, enforcing the same inactivity and
// revocation rules as a browser's own login.
package authsvc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtLeeway = 60 * time.Second

// ErrInvalidToken covers every way an access token can fail to decode:
// malformed, wrong algorithm, missing claims, expired, bad audience.
var ErrInvalidToken = errors.New("authsvc: invalid access token")

// accessTokenClaims mirrors the rendezvous login service's token shape.
// aud is always "access"; relay access tokens never double as refresh
// tokens.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	SessionID uuid.UUID `json:"session_id"`
}

// AccessTokenDetails is what a verified access token reveals about its
// bearer.
type AccessTokenDetails struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	ExpiresAt time.Time
}

// JWTService decodes HS256 access tokens signed by the rendezvous login
// service. It never issues tokens itself — that is out of scope for this
// core (spec.md §1).
type JWTService struct {
	secret []byte
}

// NewJWTService builds a service from a base64-encoded secret, as stored
// in config.ServerConfig.JWTSecret.
func NewJWTService(base64Secret string) (*JWTService, error) {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("authsvc: decoding jwt secret: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("authsvc: jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return &JWTService{secret: secret}, nil
}

// DecodeAccessToken validates token and returns the identity it carries.
func (j *JWTService) DecodeAccessToken(token string) (AccessTokenDetails, error) {
	if len(token) == 0 {
		return AccessTokenDetails{}, ErrInvalidToken
	}

	var claims accessTokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience("access"),
		jwt.WithLeeway(jwtLeeway),
	)
	if err != nil || !parsed.Valid {
		return AccessTokenDetails{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return AccessTokenDetails{}, ErrInvalidToken
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return AccessTokenDetails{}, ErrInvalidToken
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return AccessTokenDetails{}, ErrInvalidToken
	}

	return AccessTokenDetails{
		UserID:    userID,
		SessionID: claims.SessionID,
		ExpiresAt: expiresAt.Time,
	}, nil
}
