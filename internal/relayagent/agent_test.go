// SPDX-License-Identifier: LGPL-3.0-or-later

package relayagent

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/internal/config"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/reqsign"
)

func newTestAgent(t *testing.T, upstreamAddr string) *Agent {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AgentConfig{
		RelayWSURL:        "ws://unused.invalid/v1/relay/connect",
		BearerToken:       "token",
		PairingListenAddr: "127.0.0.1:0",
		UpstreamAddr:      upstreamAddr,
		SigningKeyPath:    filepath.Join(dir, "signing_key"),
		TrustedKeysPath:   filepath.Join(dir, "trusted_keys.json"),
		ReconnectMinDelay: time.Millisecond,
		ReconnectMaxDelay: 10 * time.Millisecond,
		LogLevel:          "error",
	}
	a, err := New(cfg, logger.New(io.Discard, "error"))
	require.NoError(t, err)
	return a
}

func TestMarkRelayedSetsHeader(t *testing.T) {
	var gotHeader string
	h := markRelayed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(reqsign.RelayHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "1", gotHeader)
}

func TestPairingRouteReachableDirectly(t *testing.T) {
	a := newTestAgent(t, "127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPairingRouteRejectedWhenMarkedRelayed(t *testing.T) {
	a := newTestAgent(t, "127.0.0.1:1")
	relayed := markRelayed(a.router)

	req := httptest.NewRequest(http.MethodPost, "/relay-auth/enrollment-code", nil)
	rec := httptest.NewRecorder()
	relayed.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxyToUpstreamForwardsDirectRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/widgets", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	a := newTestAgent(t, upstream.Listener.Addr().String())

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestProxyToUpstreamRejectsUnsignedRelayedRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be reached without a valid signature")
	}))
	defer upstream.Close()

	a := newTestAgent(t, upstream.Listener.Addr().String())
	relayed := markRelayed(a.router)

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()
	relayed.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
