// Package admingrp maintains the group of handlers for operator access.
package admingrp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/validate"
	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/carvexyz/carve/foundation/web"
	"go.uber.org/zap"
)

// Syncer can be asked to reconcile the mirror out of band.
type Syncer interface {
	SignalSync()
}

// Orders provides the flagged orders.
type Orders interface {
	QueryFlagged(ctx context.Context) ([]mirror.Order, error)
}

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Carving *carving.Core
	Syncer  Syncer
	Orders  Orders
}

// Scratch deletes a carving from the ledger.
func (h Handlers) Scratch(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")
	if err := validate.CheckID(id); err != nil {
		return errs.NewTrusted(errors.New("invalid carving id"), http.StatusBadRequest)
	}

	cid, err := ledger.ToID(id)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	txRef, err := h.Carving.Scratch(ctx, cid)
	if err != nil {
		if errors.Is(err, carving.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return fmt.Errorf("ID[%s]: %w", id, err)
	}

	h.Syncer.SignalSync()

	resp := struct {
		ID    string `json:"id"`
		TxRef string `json:"transaction"`
	}{
		ID:    cid.Hex(),
		TxRef: txRef,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Sync asks the reconciler to run now.
func (h Handlers) Sync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Syncer.SignalSync()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "sync requested",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// AppOrder is an order as shown to the operator.
type AppOrder struct {
	ID               uint      `json:"id"`
	ExternalObjectID string    `json:"externalObjectId"`
	PaymentID        string    `json:"externalPaymentId"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failureReason,omitempty"`
	ProvidedEmail    string    `json:"providedEmail,omitempty"`
	ReceiptEmail     string    `json:"receiptEmail,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

// Flagged returns the orders that need operator attention.
func (h Handlers) Flagged(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	orders, err := h.Orders.QueryFlagged(ctx)
	if err != nil {
		return fmt.Errorf("flagged: %w", err)
	}

	items := make([]AppOrder, len(orders))
	for i, o := range orders {
		items[i] = AppOrder{
			ID:               o.ID,
			ExternalObjectID: o.ExternalObjectID,
			PaymentID:        o.ExternalPaymentID,
			Status:           o.Status,
			FailureReason:    o.FailureReason,
			ProvidedEmail:    o.ProvidedEmail,
			ReceiptEmail:     o.ReceiptEmail,
			ReceivedAt:       o.ReceivedAt,
		}
	}

	return web.Respond(ctx, w, items, http.StatusOK)
}
