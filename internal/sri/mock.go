package sri

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MockAuthority is an in-process Authority for development and tests. It
// accepts every submission and answers authorization queries from Script,
// repeating the last entry; an empty script always authorizes.
type MockAuthority struct {
	Latency time.Duration
	Script  []AuthorizationStatus
	// Reject makes reception answer DEVUELTA with the given messages.
	Reject []Message

	mu          sync.Mutex
	submissions int
	checks      int
	now         func() time.Time
}

// NewMockAuthority returns an authority that authorizes on the first query.
func NewMockAuthority() *MockAuthority {
	return &MockAuthority{now: time.Now}
}

// Submissions returns how many documents were submitted.
func (m *MockAuthority) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions
}

// Checks returns how many authorization queries were answered.
func (m *MockAuthority) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

func (m *MockAuthority) Submit(ctx context.Context, signedXML string, env Environment) (ReceptionResult, error) {
	if err := m.wait(ctx); err != nil {
		return ReceptionResult{}, err
	}
	m.mu.Lock()
	m.submissions++
	m.mu.Unlock()
	state := receptionAccepted
	if len(m.Reject) > 0 {
		state = "DEVUELTA"
	}
	raw, _ := json.Marshal(map[string]any{"state": state, "messages": m.Reject, "mock": true})
	return ReceptionResult{Accepted: len(m.Reject) == 0, State: state, Messages: m.Reject, Raw: raw}, nil
}

func (m *MockAuthority) CheckAuthorization(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error) {
	if err := m.wait(ctx); err != nil {
		return AuthorizationResult{}, err
	}
	m.mu.Lock()
	status := StatusAuthorized
	if len(m.Script) > 0 {
		idx := m.checks
		if idx >= len(m.Script) {
			idx = len(m.Script) - 1
		}
		status = m.Script[idx]
	}
	m.checks++
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.mu.Unlock()

	result := AuthorizationResult{Status: status}
	if status == StatusAuthorized {
		ts := now()
		result.AuthorizedAt = ts
		result.Number = ts.Format("02012006") + fmt.Sprintf("%09d", rand.IntN(1_000_000_000))
	}
	if status == StatusNotAuthorized {
		result.Messages = []Message{{Identifier: "39", Text: "FIRMA INVALIDA", Type: MessageError}}
	}
	raw, _ := json.Marshal(map[string]any{
		"accessKey":           accessKey,
		"state":               status,
		"authorizationNumber": result.Number,
		"environment":         env,
		"mock":                true,
	})
	result.Raw = raw
	return result, nil
}

func (m *MockAuthority) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return ctx.Err()
	}
	return sleepContext(ctx, m.Latency)
}
