// Package signing applies the XAdES-BES enveloped signature the authority
// requires on every document.
package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrSigningFailed wraps every signer failure. It is retryable.
	ErrSigningFailed = errors.New("signing: failed")
	// ErrCertificate means the signing certificate is unusable.
	ErrCertificate = errors.New("signing: certificate unusable")
)

// Signer turns an unsigned document into a signed one.
type Signer interface {
	Sign(ctx context.Context, unsignedXML string) (string, error)
}

const closingTag = "</factura>"

// MockSigner inserts a placeholder ds:Signature before the closing root tag.
// The result is never accepted by the real authority.
type MockSigner struct {
	now func() time.Time
}

// NewMockSigner constructs a MockSigner.
func NewMockSigner() *MockSigner {
	return &MockSigner{now: time.Now}
}

func (s *MockSigner) Sign(ctx context.Context, unsignedXML string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	idx := strings.LastIndex(unsignedXML, closingTag)
	if idx < 0 {
		return "", fmt.Errorf("%w: document has no %s", ErrSigningFailed, closingTag)
	}
	signature := fmt.Sprintf(`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#" Id="Signature"><ds:SignedInfo><ds:CanonicalizationMethod Algorithm="http://www.w3.org/TR/2001/REC-xml-c14n-20010315"/><ds:SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#rsa-sha1"/></ds:SignedInfo><ds:SignatureValue>MOCK-%d</ds:SignatureValue></ds:Signature>`, s.now().UnixNano())
	return unsignedXML[:idx] + signature + unsignedXML[idx:], nil
}

// RemoteSigner posts the document to an HTTP signing service holding the
// PKCS#12 certificate.
type RemoteSigner struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewRemoteSigner constructs a RemoteSigner.
func NewRemoteSigner(endpoint, token string, timeout time.Duration) *RemoteSigner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteSigner{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *RemoteSigner) Sign(ctx context.Context, unsignedXML string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/sign", bytes.NewBufferString(unsignedXML))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrSigningFailed, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: signer returned status %d: %s", ErrSigningFailed, resp.StatusCode, snippet(body))
	}
	signed := string(body)
	if !strings.Contains(signed, "Signature") {
		return "", fmt.Errorf("%w: response carries no signature", ErrSigningFailed)
	}
	return signed, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
