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

// Package config loads the environment-driven configuration for the relay
// server and relay agent binaries.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

// ServerConfig configures the rendezvous relay server.
type ServerConfig struct {
	DatabaseURL string
	ListenAddr  string
	JWTSecret   string
	LogLevel    string
}

// ServerConfigFromEnv loads ServerConfig the way the relay server binary is
// expected to be launched: SERVER_DATABASE_URL (falling back to
// DATABASE_URL), RELAY_LISTEN_ADDR (default 0.0.0.0:8082),
// RELAY_JWT_SECRET (base64, must decode to >=32 bytes).
func ServerConfigFromEnv() (*ServerConfig, error) {
	databaseURL := firstNonEmpty(os.Getenv("SERVER_DATABASE_URL"), os.Getenv("DATABASE_URL"))

	listenAddr := os.Getenv("RELAY_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "0.0.0.0:8082"
	}

	jwtSecret := os.Getenv("RELAY_JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("config: environment variable RELAY_JWT_SECRET is not set")
	}
	if err := validateJWTSecret(jwtSecret); err != nil {
		return nil, err
	}

	return &ServerConfig{
		DatabaseURL: databaseURL,
		ListenAddr:  SubstituteEnvVars(listenAddr),
		JWTSecret:   jwtSecret,
		LogLevel:    envOrDefault("RELAY_LOG_LEVEL", "info"),
	}, nil
}

func validateJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return fmt.Errorf("config: RELAY_JWT_SECRET is not valid base64: %w", err)
	}
	if len(decoded) < 32 {
		return fmt.Errorf("config: RELAY_JWT_SECRET must decode to at least 32 bytes, got %d", len(decoded))
	}
	return nil
}

// AgentConfig configures the local relay agent: it dials the rendezvous
// server outbound, serves pairing (internal/relayauth) and signed-request
// verification on its own local listener, and proxies everything else to
// the user's actual local application.
type AgentConfig struct {
	RelayWSURL        string
	BearerToken       string
	PairingListenAddr string
	UpstreamAddr      string
	SigningKeyPath    string
	TrustedKeysPath   string
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	LogLevel          string
}

// AgentConfigFromEnv loads AgentConfig from RELAY_WS_URL, RELAY_BEARER_TOKEN,
// RELAY_PAIRING_LISTEN_ADDR (default 127.0.0.1:8787, where the pairing UI and
// the tunnel's decoded requests are served) and RELAY_UPSTREAM_ADDR (default
// 127.0.0.1:8080, the user's actual local application).
func AgentConfigFromEnv() (*AgentConfig, error) {
	wsURL := os.Getenv("RELAY_WS_URL")
	if wsURL == "" {
		return nil, fmt.Errorf("config: environment variable RELAY_WS_URL is not set")
	}

	bearerToken := os.Getenv("RELAY_BEARER_TOKEN")
	if bearerToken == "" {
		return nil, fmt.Errorf("config: environment variable RELAY_BEARER_TOKEN is not set")
	}

	pairingListenAddr := envOrDefault("RELAY_PAIRING_LISTEN_ADDR", "127.0.0.1:8787")
	upstreamAddr := envOrDefault("RELAY_UPSTREAM_ADDR", "127.0.0.1:8080")

	signingKeyPath := envOrDefault("RELAY_SIGNING_KEY_PATH", "./data/relay_signing_key")
	trustedKeysPath := envOrDefault("RELAY_TRUSTED_KEYS_PATH", "./data/trusted_ed25519_public_keys.json")

	return &AgentConfig{
		RelayWSURL:        wsURL,
		BearerToken:       bearerToken,
		PairingListenAddr: SubstituteEnvVars(pairingListenAddr),
		UpstreamAddr:      SubstituteEnvVars(upstreamAddr),
		SigningKeyPath:    SubstituteEnvVars(signingKeyPath),
		TrustedKeysPath:   SubstituteEnvVars(trustedKeysPath),
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		LogLevel:          envOrDefault("RELAY_LOG_LEVEL", "info"),
	}, nil
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
