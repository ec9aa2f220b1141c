// SPDX-License-Identifier: LGPL-3.0-or-later

package relayagent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/relaymux"
	"github.com/sage-x-project/sage/internal/relayproxy"
	"github.com/sage-x-project/sage/internal/reqsign"
	"github.com/sage-x-project/sage/internal/wireio"
)

// markRelayed tags every request reaching it as having arrived over the
// tunnel, mirroring the original's proxy_to_local inserting x-vk-relayed
// before handing a decoded request to the local application.
func markRelayed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Set(reqsign.RelayHeader, "1")
		next.ServeHTTP(w, r)
	})
}

// Run serves the local pairing/proxy router on cfg.PairingListenAddr and
// maintains an outbound control channel to the rendezvous server,
// reconnecting with exponential backoff until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.PairingListenAddr)
	if err != nil {
		return err
	}

	localSrv := &http.Server{Handler: a.router}
	go func() {
		<-ctx.Done()
		_ = localSrv.Close()
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		a.log.Info("agent local listener starting", logger.String("addr", a.cfg.PairingListenAddr))
		err := localSrv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	tunnelErrCh := make(chan error, 1)
	go func() {
		tunnelErrCh <- a.runTunnel(ctx)
	}()

	select {
	case err := <-serveErrCh:
		return err
	case err := <-tunnelErrCh:
		return err
	case <-ctx.Done():
		<-serveErrCh
		return ctx.Err()
	}
}

// runTunnel dials the rendezvous server and serves accepted streams until
// ctx is cancelled, reconnecting with exponential backoff on every
// disconnect.
func (a *Agent) runTunnel(ctx context.Context) error {
	delay := a.cfg.ReconnectMinDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := a.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			a.log.Warn("control channel disconnected, reconnecting", logger.Err(err), logger.Any("retry_in", delay.String()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > a.cfg.ReconnectMaxDelay {
			delay = a.cfg.ReconnectMaxDelay
		}
	}
}

func (a *Agent) connectOnce(ctx context.Context) error {
	header := http.Header{"Authorization": []string{"Bearer " + a.cfg.BearerToken}}
	dialer := a.dialer
	dialer.TLSClientConfig = relaymux.AgentTLSConfig()

	wsConn, _, err := dialer.DialContext(ctx, a.cfg.RelayWSURL, header)
	if err != nil {
		return err
	}
	defer wsConn.Close()

	muxer, err := relaymux.NewAgentMuxer(wireio.New(wsConn))
	if err != nil {
		return err
	}
	defer muxer.Close()

	a.log.Info("control channel connected")
	relayedHandler := markRelayed(a.router)

	for {
		stream, err := muxer.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := relayproxy.ServeStream(stream, relayedHandler); err != nil {
				a.log.Warn("inbound stream handling ended", logger.Err(err))
			}
		}()
	}
}
