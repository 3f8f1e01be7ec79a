// Package carvegrp maintains the group of handlers for carving access.
package carvegrp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/sys/validate"
	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/foundation/events"
	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/carvexyz/carve/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of carving endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Carving *carving.Core
	WS      websocket.Upgrader
	Evts    *events.Events
}

// QueryByID returns a carving by its id.
func (h Handlers) QueryByID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")
	if err := validate.CheckID(id); err != nil {
		return errs.NewTrusted(errors.New("invalid carving id"), http.StatusBadRequest)
	}

	cid, err := ledger.ToID(id)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	crv, err := h.Carving.QueryByID(ctx, cid)
	if err != nil {
		switch {
		case errors.Is(err, carving.ErrNotFound):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.Is(err, carving.ErrDeleted):
			return errs.NewTrusted(err, http.StatusGone)
		default:
			return fmt.Errorf("ID[%s]: %w", id, err)
		}
	}

	return web.Respond(ctx, w, toAppCarving(crv, h.Carving.Link(crv.ID)), http.StatusOK)
}

// Peruse returns the public carvings.
func (h Handlers) Peruse(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	crvs := h.Carving.Peruse(ctx)

	items := make([]AppCarving, len(crvs))
	for i, crv := range crvs {
		items[i] = toAppCarving(crv, h.Carving.Link(crv.ID))
	}

	return web.Respond(ctx, w, items, http.StatusOK)
}

// Lookup emails the caller's carvings to the address they provide. The
// response does not reveal whether any were found.
func (h Handlers) Lookup(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var app AppLookup
	if err := web.Decode(r, &app); err != nil {
		if validate.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.Carving.SendLookup(ctx, app.Email); err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "if carvings exist for this address, an email is on its way",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the workers.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting for events from the workers or ticker.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
