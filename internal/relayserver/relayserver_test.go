// SPDX-License-Identifier: LGPL-3.0-or-later

package relayserver

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/hoststore/memstore"
	"github.com/sage-x-project/sage/internal/relayregistry"
)

func testJWTSecret() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	SessionID uuid.UUID `json:"session_id"`
}

func mintAccessToken(t *testing.T, secret string, userID, sessionID uuid.UUID) string {
	t.Helper()
	rawSecret, err := base64.StdEncoding.DecodeString(secret)
	require.NoError(t, err)

	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{"access"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(rawSecret)
	require.NoError(t, err)
	return signed
}

type testHarness struct {
	handler  *Handler
	router   *mux.Router
	store    *memstore.Store
	registry *relayregistry.Registry
	secret   string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	secret := testJWTSecret()
	jwtSvc, err := authsvc.NewJWTService(secret)
	require.NoError(t, err)

	store := memstore.New()
	resolver := authsvc.NewResolver(jwtSvc, store.AuthSessions(), store.Users())
	registry := relayregistry.New()

	h := New(Deps{
		Hosts:           store.Hosts(),
		AuthCodes:       store.AuthCodes(),
		BrowserSessions: store.BrowserSessions(),
		AuthSessions:    store.AuthSessions(),
		Registry:        registry,
		Resolver:        resolver,
	})

	r := mux.NewRouter()
	h.Register(r)

	return &testHarness{handler: h, router: r, store: store, registry: registry, secret: secret}
}

func (h *testHarness) seedUser(t *testing.T) (userID, authSessionID uuid.UUID, token string) {
	t.Helper()
	userID = uuid.New()
	authSessionID = uuid.New()
	h.store.SeedUser(hoststore.User{ID: userID, Email: "user@example.com"})
	h.store.SeedAuthSession(hoststore.AuthSession{ID: authSessionID, UserID: userID, LastUsedAt: time.Now()})
	token = mintAccessToken(t, h.secret, userID, authSessionID)
	return
}

// fakeMuxer satisfies relaymux.Muxer without running real yamux framing,
// for tests that only exercise the rendezvous server's OpenStream call.
type fakeMuxer struct {
	openConn net.Conn
	openErr  error
	done     chan struct{}
}

func newFakeMuxer() (*fakeMuxer, net.Conn) {
	client, server := net.Pipe()
	return &fakeMuxer{openConn: client, done: make(chan struct{})}, server
}

func (m *fakeMuxer) OpenStream(ctx context.Context) (net.Conn, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.openConn, nil
}

func (m *fakeMuxer) AcceptStream(ctx context.Context) (net.Conn, error) {
	<-m.done
	return nil, net.ErrClosed
}

func (m *fakeMuxer) Done() <-chan struct{} { return m.done }

func (m *fakeMuxer) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return nil
}

func TestIssueAuthCodeSuccess(t *testing.T) {
	h := newTestHarness(t)
	userID, _, token := h.seedUser(t)

	hostID := uuid.New()
	sessionID := uuid.New()
	h.store.SeedSession(hoststore.RelaySession{
		ID:              sessionID,
		HostID:          hostID,
		RequesterUserID: userID,
		State:           hoststore.SessionRequested,
		ExpiresAt:       time.Now().Add(time.Hour),
	})

	muxer, backend := newFakeMuxer()
	defer backend.Close()
	h.registry.Insert(hostID, relayregistry.NewActiveRelay(muxer))

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/sessions/"+sessionID.String()+"/auth-code", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"auth_code"`)
}

func TestIssueAuthCodeSessionNotFound(t *testing.T) {
	h := newTestHarness(t)
	_, _, token := h.seedUser(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/sessions/"+uuid.New().String()+"/auth-code", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueAuthCodeRejectsExpiredSession(t *testing.T) {
	h := newTestHarness(t)
	userID, _, token := h.seedUser(t)

	hostID := uuid.New()
	sessionID := uuid.New()
	h.store.SeedSession(hoststore.RelaySession{
		ID:              sessionID,
		HostID:          hostID,
		RequesterUserID: userID,
		State:           hoststore.SessionExpired,
		ExpiresAt:       time.Now().Add(-time.Hour),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/sessions/"+sessionID.String()+"/auth-code", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusGone, rec.Code)
}

func TestIssueAuthCodeRejectsDisconnectedHost(t *testing.T) {
	h := newTestHarness(t)
	userID, _, token := h.seedUser(t)

	hostID := uuid.New()
	sessionID := uuid.New()
	h.store.SeedSession(hoststore.RelaySession{
		ID:              sessionID,
		HostID:          hostID,
		RequesterUserID: userID,
		State:           hoststore.SessionRequested,
		ExpiresAt:       time.Now().Add(time.Hour),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/sessions/"+sessionID.String()+"/auth-code", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusGone, rec.Code)

	session, err := h.store.Hosts().GetSessionForRequester(context.Background(), sessionID, userID)
	require.NoError(t, err)
	require.Equal(t, hoststore.SessionExpired, session.State)
}

func TestIssueAuthCodeRequiresBearerToken(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/relay/sessions/"+uuid.New().String()+"/auth-code", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExchangeAuthCodeSuccess(t *testing.T) {
	h := newTestHarness(t)
	hostID := uuid.New()
	browserSessionID := uuid.New().String()

	code, err := h.store.AuthCodes().Create(context.Background(), hostID, browserSessionID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/relay/h/"+hostID.String()+"/exchange?code="+code, nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/relay/h/"+hostID.String()+"/s/"+browserSessionID, rec.Header().Get("Location"))
}

func TestExchangeAuthCodeRejectsUnknownCode(t *testing.T) {
	h := newTestHarness(t)
	hostID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/relay/h/"+hostID.String()+"/exchange?code=nonsense", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func seedProxyable(t *testing.T, h *testHarness) (hostID, browserSessionID, userID uuid.UUID) {
	t.Helper()
	userID = uuid.New()
	authSessionID := uuid.New()

	h.store.SeedUser(hoststore.User{ID: userID, Email: "user@example.com"})
	h.store.SeedAuthSession(hoststore.AuthSession{ID: authSessionID, UserID: userID, LastUsedAt: time.Now()})

	var err error
	hostID, err = h.store.Hosts().UpsertHost(context.Background(), userID, "m1", "laptop", nil)
	require.NoError(t, err)

	bs, err := h.store.BrowserSessions().Create(context.Background(), hostID, userID, authSessionID)
	require.NoError(t, err)
	return hostID, bs.ID, userID
}

func TestProxyToHostReturnsNotFoundWhenHostOffline(t *testing.T) {
	h := newTestHarness(t)
	hostID, browserSessionID, _ := seedProxyable(t, h)

	req := httptest.NewRequest(http.MethodGet, "/relay/h/"+hostID.String()+"/s/"+browserSessionID.String()+"/index.html", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyToHostRejectsUnknownBrowserSession(t *testing.T) {
	h := newTestHarness(t)
	hostID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/relay/h/"+hostID.String()+"/s/"+uuid.New().String()+"/index.html", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyToHostRejectsRevokedBrowserSession(t *testing.T) {
	h := newTestHarness(t)
	hostID, browserSessionID, _ := seedProxyable(t, h)
	require.NoError(t, h.store.BrowserSessions().Revoke(context.Background(), browserSessionID))

	req := httptest.NewRequest(http.MethodGet, "/relay/h/"+hostID.String()+"/s/"+browserSessionID.String()+"/index.html", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyToHostForwardsRequestOverStream(t *testing.T) {
	h := newTestHarness(t)
	hostID, browserSessionID, _ := seedProxyable(t, h)

	muxer, backend := newFakeMuxer()
	defer muxer.Close()
	h.registry.Insert(hostID, relayregistry.NewActiveRelay(muxer))

	done := make(chan struct{})
	go func() {
		defer close(done)
		br := bufio.NewReader(backend)
		req, err := http.ReadRequest(br)
		require.NoError(t, err)
		require.Equal(t, "/index.html", req.URL.Path)
		_, _ = backend.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nContent-Type: text/plain\r\n\r\nhi"))
	}()

	target := "/relay/h/" + hostID.String() + "/s/" + browserSessionID.String() + "/index.html"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	<-done
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hi", rec.Body.String())
}

func TestConnectEstablishesControlChannelAndRegistersHost(t *testing.T) {
	h := newTestHarness(t)
	userID, _, token := h.seedUser(t)

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/relay/connect?machine_id=m1&name=laptop"
	headers := http.Header{"Authorization": []string{"Bearer " + token}}

	wsConn, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	defer wsConn.Close()

	require.Eventually(t, func() bool {
		hosts, err := h.store.Hosts().UpsertHost(context.Background(), userID, "m1", "laptop", nil)
		if err != nil {
			return false
		}
		return h.registry.Get(hosts) != nil
	}, time.Second, 10*time.Millisecond)
}
