// Package ledgergrp maintains the group of handlers that describe the
// ledger and stream submission progress.
package ledgergrp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/attendance/foundation/events"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Ledger describes the network the service is bound to.
type Ledger interface {
	NetworkInfo(ctx context.Context) (ledger.NetworkInfo, error)
}

// Handlers manages the set of ledger endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Ledger Ledger
	WS     websocket.Upgrader
	Evts   *events.Events
}

// NetworkInfo returns information about the ledger network.
func (h Handlers) NetworkInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	ni, err := h.Ledger.NetworkInfo(ctx)
	if err != nil {
		return fmt.Errorf("network info: %w", err)
	}

	resp := struct {
		Success bool               `json:"success"`
		Data    ledger.NetworkInfo `json:"data"`
	}{
		Success: true,
		Data:    ni,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// The upgrade took over the response.
	web.SetStatusCode(ctx, http.StatusSwitchingProtocols)

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
