// SPDX-License-Identifier: LGPL-3.0-or-later

package relayproxy

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripPrefixRemovesExactMatch(t *testing.T) {
	rewrite := StripPrefix("/relay/h/abc/s/def")
	require.Equal(t, "/", rewrite("/relay/h/abc/s/def"))
	require.Equal(t, "/api/widgets", rewrite("/relay/h/abc/s/def/api/widgets"))
	require.Equal(t, "/unrelated", rewrite("/unrelated"))
}

func TestIdentityLeavesPathUntouched(t *testing.T) {
	require.Equal(t, "/foo/bar", Identity("/foo/bar"))
}

func TestRequestForwardsNormalResponse(t *testing.T) {
	backendClient, backendServer := net.Pipe()
	defer backendClient.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := http.ReadRequest(bufio.NewReader(backendServer))
		require.NoError(t, err)
		require.Equal(t, "/widgets", req.URL.Path)

		resp := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"
		_, err = backendServer.Write([]byte(resp))
		require.NoError(t, err)
	}()

	r := httptest.NewRequest(http.MethodGet, "/relay/h/x/s/y/widgets", nil)
	w := httptest.NewRecorder()

	err := Request(w, r, backendClient, StripPrefix("/relay/h/x/s/y"))
	require.NoError(t, err)
	<-done

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello", w.Body.String())
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
}
