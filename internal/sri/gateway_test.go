package sri

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedAuthority struct {
	reception ReceptionResult
	submitErr error
	statuses  []AuthorizationStatus
	checkErr  error
	checks    int
}

func (s *scriptedAuthority) Submit(ctx context.Context, signedXML string, env Environment) (ReceptionResult, error) {
	return s.reception, s.submitErr
}

func (s *scriptedAuthority) CheckAuthorization(ctx context.Context, accessKey string, env Environment) (AuthorizationResult, error) {
	s.checks++
	if s.checkErr != nil {
		return AuthorizationResult{}, s.checkErr
	}
	idx := s.checks - 1
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	res := AuthorizationResult{Status: s.statuses[idx]}
	if res.Status == StatusAuthorized {
		res.Number = "1405202412345"
	}
	return res, nil
}

func newTestGateway(a Authority, maxRetries int) (*Gateway, *int) {
	sleeps := 0
	g := NewGateway(a, GatewayConfig{MaxRetries: maxRetries, PollInterval: time.Second})
	g.WithSleep(func(context.Context, time.Duration) error {
		sleeps++
		return nil
	})
	return g, &sleeps
}

func TestAwaitAuthorizationTimesOutAfterBudget(t *testing.T) {
	auth := &scriptedAuthority{statuses: []AuthorizationStatus{StatusInProcess}}
	g, sleeps := newTestGateway(auth, 3)

	_, err := g.AwaitAuthorization(context.Background(), "key", EnvironmentTest)
	require.ErrorIs(t, err, ErrAuthorizationTimeout)
	require.False(t, errors.Is(err, ErrAuthorizationRejected))
	require.Equal(t, 3, auth.checks)
	require.Equal(t, 2, *sleeps)
}

func TestAwaitAuthorizationReturnsOnAuthorized(t *testing.T) {
	auth := &scriptedAuthority{statuses: []AuthorizationStatus{StatusInProcess, StatusInProcess, StatusAuthorized}}
	g, sleeps := newTestGateway(auth, 12)

	res, err := g.AwaitAuthorization(context.Background(), "key", EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Status)
	require.Equal(t, "1405202412345", res.Number)
	require.Equal(t, 3, auth.checks)
	require.Equal(t, 2, *sleeps)
}

func TestAwaitAuthorizationStopsOnRejection(t *testing.T) {
	auth := &scriptedAuthority{statuses: []AuthorizationStatus{StatusInProcess, StatusNotAuthorized}}
	g, _ := newTestGateway(auth, 12)

	res, err := g.AwaitAuthorization(context.Background(), "key", EnvironmentTest)
	require.ErrorIs(t, err, ErrAuthorizationRejected)
	require.Equal(t, StatusNotAuthorized, res.Status)
	require.Equal(t, 2, auth.checks)
}

func TestAwaitAuthorizationClassifiesTransportErrors(t *testing.T) {
	auth := &scriptedAuthority{checkErr: errors.New("dial tcp: refused")}
	g, _ := newTestGateway(auth, 12)

	_, err := g.AwaitAuthorization(context.Background(), "key", EnvironmentTest)
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, 1, auth.checks)
}

func TestSubmitRejectedCarriesMessages(t *testing.T) {
	auth := &scriptedAuthority{reception: ReceptionResult{
		Accepted: false,
		State:    "DEVUELTA",
		Messages: []Message{{Identifier: "35", Text: "ARCHIVO NO CUMPLE ESTRUCTURA XML"}},
	}}
	g, _ := newTestGateway(auth, 1)

	res, err := g.Submit(context.Background(), "<factura/>", EnvironmentTest, "key")
	require.ErrorIs(t, err, ErrReceptionRejected)
	require.Contains(t, err.Error(), "[35] ARCHIVO NO CUMPLE ESTRUCTURA XML")
	require.False(t, res.Accepted)

	var authErr *AuthorityError
	require.ErrorAs(t, err, &authErr)
	require.Len(t, authErr.Messages, 1)
}

func TestMockAuthorityAuthorizes(t *testing.T) {
	mock := NewMockAuthority()
	mock.now = func() time.Time { return time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC) }

	rec, err := mock.Submit(context.Background(), "<factura/>", EnvironmentTest)
	require.NoError(t, err)
	require.True(t, rec.Accepted)

	res, err := mock.CheckAuthorization(context.Background(), "key", EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, StatusAuthorized, res.Status)
	require.Len(t, res.Number, 17)
	require.Equal(t, "14052024", res.Number[:8])
	require.Equal(t, 1, mock.Submissions())
	require.Equal(t, 1, mock.Checks())
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment(" prod ")
	require.NoError(t, err)
	require.Equal(t, EnvironmentProd, env)
	require.Equal(t, "2", env.Code())
	require.Equal(t, "1", EnvironmentTest.Code())

	_, err = ParseEnvironment("STAGING")
	require.Error(t, err)
}
