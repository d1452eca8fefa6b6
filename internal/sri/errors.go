package sri

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReceptionRejected means the reception service returned DEVUELTA.
	ErrReceptionRejected = errors.New("sri: document returned by reception")
	// ErrAuthorizationRejected is a definitive NO AUTORIZADO answer.
	ErrAuthorizationRejected = errors.New("sri: document not authorized")
	// ErrAuthorizationTimeout means the poll budget ran out while EN PROCESO.
	ErrAuthorizationTimeout = errors.New("sri: authorization still in process")
	// ErrConnection covers transport failures and non-2xx answers.
	ErrConnection = errors.New("sri: connection failure")
	// ErrInvalidResponse covers bodies that could not be parsed.
	ErrInvalidResponse = errors.New("sri: invalid response")
)

// AuthorityError carries the authority messages alongside the failure kind.
type AuthorityError struct {
	Kind      error
	AccessKey string
	Messages  []Message
}

func (e *AuthorityError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s (access key %s)", e.Kind, e.AccessKey)
	}
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, m.String())
	}
	return fmt.Sprintf("%s (access key %s): %s", e.Kind, e.AccessKey, strings.Join(parts, "; "))
}

func (e *AuthorityError) Unwrap() error {
	return e.Kind
}
