// Package paygrp maintains the handler for payment processor callbacks.
package paygrp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/carvexyz/carve/business/core/order"
	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/foundation/web"
	"go.uber.org/zap"
)

// maxEventSize bounds the body read from the processor.
const maxEventSize = 64 << 10

// Handlers manages the payment callback.
type Handlers struct {
	Log      *zap.SugaredLogger
	Pipeline *order.Pipeline
}

// AppResult is the acknowledgement returned to the processor.
type AppResult struct {
	Status    string `json:"status"`
	OrderID   uint   `json:"orderId,omitempty"`
	CarvingID string `json:"carvingId,omitempty"`
	TxRef     string `json:"transaction,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Events accepts a verified payment event. Event types other than a
// succeeded payment are acknowledged and ignored. A delivery that is still
// being processed elsewhere is answered with a conflict so the processor
// retries it later.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("reading event: %w", err), http.StatusBadRequest)
	}

	ev, err := order.ParseEvent(data)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if ev.Type != order.TypePaymentSucceeded {
		h.Log.Infow("payment event", "traceid", web.GetTraceID(ctx), "status", "ignored", "type", ev.Type)
		return web.Respond(ctx, w, AppResult{Status: "ignored"}, http.StatusOK)
	}

	result, err := h.Pipeline.HandleConfirmedPayment(ctx, ev)
	if err != nil {
		if errors.Is(err, order.ErrInvalidEvent) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return fmt.Errorf("object[%s] payment[%s]: %w", ev.ObjectID, ev.PaymentID, err)
	}

	app := AppResult{
		Status:    result.Status.String(),
		OrderID:   result.OrderID,
		CarvingID: result.CarvingID,
		TxRef:     result.TxRef,
		Reason:    result.Reason,
	}

	statusCode := http.StatusOK
	if result.Status == order.InProgress {
		statusCode = http.StatusConflict
	}

	return web.Respond(ctx, w, app, statusCode)
}
