package protocol

import "github.com/Vivek-1102/Capx/pkg/models"

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	TypeInitial = "initial"
	TypeUpdate  = "update"
	TypeError   = "error"
)

// WSRequest is a client-to-server control message.
type WSRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol"`
}

// InitialMessage carries the full snapshot pushed on connect.
type InitialMessage struct {
	Type string                  `json:"type"` // "initial"
	Data []models.InstrumentView `json:"data"`
}

// UpdateMessage carries a single live tick.
type UpdateMessage struct {
	Type string      `json:"type"` // "update"
	Data models.Tick `json:"data"`
}

// ErrorMessage reports a per-client protocol error.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
