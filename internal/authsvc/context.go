// SPDX-License-Identifier: LGPL-3.0-or-later

package authsvc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/logger"
)

// ErrUnauthorized is returned whenever a request's credentials don't
// resolve to a usable session: missing bearer token, expired access
// token, user/session mismatch, revoked or inactivity-expired session.
var ErrUnauthorized = errors.New("authsvc: unauthorized")

// RequestContext is the authenticated identity attached to a request once
// its access token has been verified against a live auth session.
type RequestContext struct {
	User                  hoststore.User
	AuthSessionID         uuid.UUID
	AccessTokenExpiresAt  time.Time
}

// Resolver ties together JWTService and the repositories needed to turn a
// bearer token into a RequestContext.
type Resolver struct {
	jwt          *JWTService
	authSessions hoststore.AuthSessionRepository
	users        hoststore.UserRepository
}

// NewResolver builds a Resolver over the given repositories.
func NewResolver(jwt *JWTService, authSessions hoststore.AuthSessionRepository, users hoststore.UserRepository) *Resolver {
	return &Resolver{jwt: jwt, authSessions: authSessions, users: users}
}

// FromAccessToken decodes accessToken, then resolves the session and user
// behind it via FromAuthSessionID, rejecting a token whose claimed user
// doesn't match the session's actual owner.
func (r *Resolver) FromAccessToken(ctx context.Context, accessToken string) (RequestContext, error) {
	identity, err := r.jwt.DecodeAccessToken(accessToken)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to decode access token", logger.Err(err))
		return RequestContext{}, ErrUnauthorized
	}

	rc, err := r.FromAuthSessionID(ctx, identity.SessionID)
	if err != nil {
		return RequestContext{}, err
	}
	if rc.User.ID != identity.UserID {
		logger.FromContext(ctx).Warn("access token user does not match session user",
			logger.String("token_user_id", identity.UserID.String()),
			logger.String("session_user_id", rc.User.ID.String()),
			logger.String("session_id", identity.SessionID.String()),
		)
		return RequestContext{}, ErrUnauthorized
	}

	rc.AccessTokenExpiresAt = identity.ExpiresAt
	return rc, nil
}

// FromAuthSessionID loads sessionID, enforces revocation and the 365-day
// inactivity limit, loads the owning user, and touches the session's
// last-used timestamp on success.
func (r *Resolver) FromAuthSessionID(ctx context.Context, sessionID uuid.UUID) (RequestContext, error) {
	log := logger.FromContext(ctx)

	session, err := r.authSessions.Get(ctx, sessionID)
	if errors.Is(err, hoststore.ErrNotFound) {
		log.Warn("auth session not found", logger.String("session_id", sessionID.String()))
		return RequestContext{}, ErrUnauthorized
	}
	if errors.Is(err, hoststore.ErrExpired) {
		log.Warn("auth session expired or revoked", logger.String("session_id", sessionID.String()))
		return RequestContext{}, ErrUnauthorized
	}
	if err != nil {
		log.Error("failed to load auth session", logger.Err(err))
		return RequestContext{}, ErrUnauthorized
	}

	user, err := r.users.FetchUser(ctx, session.UserID)
	if errors.Is(err, hoststore.ErrNotFound) {
		log.Warn("user missing for auth session", logger.String("user_id", session.UserID.String()))
		return RequestContext{}, ErrUnauthorized
	}
	if err != nil {
		log.Error("failed to load user", logger.Err(err))
		return RequestContext{}, ErrUnauthorized
	}

	if touchErr := r.authSessions.Touch(ctx, session.ID); touchErr != nil {
		log.Warn("failed to update auth session last-used timestamp", logger.Err(touchErr))
	}

	return RequestContext{
		User:          *user,
		AuthSessionID: session.ID,
	}, nil
}
