// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cinelog/internal/logging"
)

// callbackListener is a short-lived loopback HTTP server that receives the
// OAuth redirect during the interactive authorization flow. It binds
// immediately so the redirect URI is live before the user opens the consent
// page, and shuts itself down after the flow completes or times out.
type callbackListener struct {
	srv      *http.Server
	ln       net.Listener
	manager  *Manager
	stopOnce chan struct{}
}

func newCallbackListener(host string, port int, m *Manager) (*callbackListener, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := &callbackListener{
		ln:       ln,
		manager:  m,
		stopOnce: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Get("/callback", l.handleCallback)

	l.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return l, nil
}

// serveUntil starts serving and arms the shutdown deadline.
func (l *callbackListener) serveUntil(timeout time.Duration) {
	go func() {
		if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("OAuth callback listener failed")
		}
	}()

	go func() {
		select {
		case <-time.After(timeout):
			logging.Warn().Msg("Authorization flow timed out")
			l.manager.expirePending(l)
			l.shutdown()
		case <-l.stopOnce:
		}
	}()
}

// stop shuts the listener down after a completed flow.
func (l *callbackListener) stop() {
	select {
	case <-l.stopOnce:
	default:
		close(l.stopOnce)
	}
	go l.shutdown()
}

func (l *callbackListener) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.srv.Shutdown(ctx)
}

func (l *callbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		logging.Warn().Str("error", errParam).Msg("Authorization denied by provider")
		writeCallbackPage(w, http.StatusBadRequest, "Authorization was denied. You can close this window.")
		return
	}

	if state == "" || code == "" {
		writeCallbackPage(w, http.StatusBadRequest, "Missing state or code parameter.")
		return
	}

	if err := l.manager.CompleteAuthorization(r.Context(), state, code); err != nil {
		if errors.Is(err, ErrStateMismatch) {
			writeCallbackPage(w, http.StatusBadRequest, "Invalid or expired authorization state. Start the flow again.")
			return
		}
		logging.Error().Err(err).Msg("Authorization completion failed")
		writeCallbackPage(w, http.StatusInternalServerError, "Authorization failed. Check the server logs.")
		return
	}

	writeCallbackPage(w, http.StatusOK, "Authorization successful. You can close this window.")
}

func writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", message)
}
