package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const sessionEventName = "session"

var sseHeartbeatInterval = 15 * time.Second

// CheckoutSessionEvents streams the session as server-sent events: the current
// snapshot first, then every saved change until the client disconnects.
func CheckoutSessionEvents(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx := r.Context()
		sessionID := chi.URLParam(r, "sessionId")
		current, err := svc.Get(ctx, sessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		updates, closeFn, err := svc.Subscribe(ctx, sessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer func() { _ = closeFn() }()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeSessionEvent(w, current); err != nil {
			return
		}
		flusher.Flush()

		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case session, open := <-updates:
				if !open {
					return
				}
				if err := writeSessionEvent(w, session); err != nil {
					if logg != nil {
						logg.Warn(logg.WithSessionID(ctx, sessionID), "checkout.session_stream_write_failed")
					}
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSessionEvent(w http.ResponseWriter, session *checkoutsvc.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sessionEventName, payload)
	return err
}
