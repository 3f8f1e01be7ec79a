package carvegrp

import (
	"net/mail"

	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/sys/validate"
)

// AppCarving is the carving sent to clients.
type AppCarving struct {
	ID         string `json:"id"`
	To         string `json:"to"`
	From       string `json:"from"`
	Message    string `json:"message"`
	Properties string `json:"properties"`
	TxRef      string `json:"transaction,omitempty"`
	Link       string `json:"link"`
}

func toAppCarving(crv carving.Carving, link string) AppCarving {
	return AppCarving{
		ID:         crv.ID.Hex(),
		To:         crv.To,
		From:       crv.From,
		Message:    crv.Message,
		Properties: crv.Properties.Hex(),
		TxRef:      crv.TxRef,
		Link:       link,
	}
}

// AppLookup is the request to email a user their carvings.
type AppLookup struct {
	Email string `json:"email" validate:"required,email"`
}

// Validate checks the data in the model is considered clean.
func (app AppLookup) Validate() error {
	if err := validate.Check(app); err != nil {
		return err
	}

	if _, err := mail.ParseAddress(app.Email); err != nil {
		return validate.FieldErrors{{Field: "email", Error: "email is not a valid address"}}
	}

	return nil
}
