package main

import (
	"time"

	"walletlink/go-client/pkg/models"
)

type eventJSON struct {
	Kind            models.EventKind `json:"kind"`
	WalletPublicKey string           `json:"wallet_public_key,omitempty"`
	Signature       string           `json:"signature,omitempty"`
	Transaction     string           `json:"transaction,omitempty"`
	ErrorCode       string           `json:"error_code,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Error           string           `json:"error,omitempty"`
	ReceivedAt      time.Time        `json:"received_at"`
}

func eventView(ev models.Event) eventJSON {
	out := eventJSON{
		Kind:            ev.Kind,
		WalletPublicKey: ev.WalletPublicKey,
		Signature:       ev.Signature,
		Transaction:     ev.Transaction,
		ErrorCode:       ev.ErrorCode,
		ErrorMessage:    ev.ErrorMessage,
		ReceivedAt:      ev.ReceivedAt,
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
