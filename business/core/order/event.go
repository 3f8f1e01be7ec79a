package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TypePaymentSucceeded is the only event type that produces a carving.
const TypePaymentSucceeded = "payment_intent.succeeded"

// ErrInvalidEvent is returned when a payment event cannot be used.
var ErrInvalidEvent = errors.New("invalid payment event")

// PaymentEvent is a verified payment confirmation.
type PaymentEvent struct {
	Type          string
	ObjectID      string
	PaymentID     string
	To            string
	From          string
	Message       string
	Properties    string
	ProvidedEmail string
	ReceiptEmail  string
	Created       time.Time
}

// wireEvent is the processor's JSON layout.
type wireEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID           string `json:"id"`
			ReceiptEmail string `json:"receipt_email"`
			Metadata     struct {
				To            string `json:"to"`
				From          string `json:"from"`
				Message       string `json:"message"`
				Properties    string `json:"properties"`
				ProvidedEmail string `json:"provided_email"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes the processor's event JSON. Both external ids are
// required since they are the keys the event is deduplicated on.
func ParseEvent(data []byte) (PaymentEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if w.Type == "" {
		return PaymentEvent{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}

	obj := w.Data.Object
	ev := PaymentEvent{
		Type:          w.Type,
		ObjectID:      w.ID,
		PaymentID:     obj.ID,
		To:            obj.Metadata.To,
		From:          obj.Metadata.From,
		Message:       obj.Metadata.Message,
		Properties:    obj.Metadata.Properties,
		ProvidedEmail: obj.Metadata.ProvidedEmail,
		ReceiptEmail:  obj.ReceiptEmail,
		Created:       time.Unix(w.Created, 0).UTC(),
	}

	if ev.Type == TypePaymentSucceeded && (ev.ObjectID == "" || ev.PaymentID == "") {
		return PaymentEvent{}, fmt.Errorf("%w: missing event or payment id", ErrInvalidEvent)
	}

	return ev, nil
}

// Recipient returns the address the buyer is notified at.
func (ev PaymentEvent) Recipient() string {
	if ev.ProvidedEmail != "" {
		return ev.ProvidedEmail
	}
	return ev.ReceiptEmail
}
