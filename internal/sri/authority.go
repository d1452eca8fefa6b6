package sri

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the severity the authority attaches to a message.
type MessageType string

const (
	MessageError         MessageType = "ERROR"
	MessageWarning       MessageType = "ADVERTENCIA"
	MessageInformational MessageType = "INFORMATIVO"
)

// Message is one entry of a mensajes list.
type Message struct {
	Identifier     string      `json:"identifier"`
	Text           string      `json:"message"`
	AdditionalInfo string      `json:"additionalInfo,omitempty"`
	Type           MessageType `json:"type,omitempty"`
}

func (m Message) String() string {
	if m.AdditionalInfo != "" {
		return fmt.Sprintf("[%s] %s: %s", m.Identifier, m.Text, m.AdditionalInfo)
	}
	return fmt.Sprintf("[%s] %s", m.Identifier, m.Text)
}

// ReceptionResult is the parsed answer of validarComprobante.
type ReceptionResult struct {
	Accepted bool            `json:"accepted"`
	State    string          `json:"state"`
	Messages []Message       `json:"messages,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// AuthorizationStatus is the estado of an autorizacion element.
type AuthorizationStatus string

const (
	StatusAuthorized    AuthorizationStatus = "AUTORIZADO"
	StatusNotAuthorized AuthorizationStatus = "NO AUTORIZADO"
	StatusInProcess     AuthorizationStatus = "EN PROCESO"
)

// AuthorizationResult is the parsed answer of autorizacionComprobante.
type AuthorizationResult struct {
	Status       AuthorizationStatus `json:"status"`
	Number       string              `json:"authorizationNumber,omitempty"`
	AuthorizedAt time.Time           `json:"authorizedAt,omitempty"`
	Messages     []Message           `json:"messages,omitempty"`
	Raw          json.RawMessage     `json:"raw,omitempty"`
}

// Authority is the contract of the SRI web services. Implementations must be
// safe for concurrent use.
type Authority interface {
	Submit(ctx context.Context, signedXML string, env Environment) (ReceptionResult, error)
	CheckAuthorization(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error)
}
