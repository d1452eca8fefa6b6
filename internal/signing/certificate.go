package signing

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// ExpiryWarning is how early Check starts warning about expiry.
const ExpiryWarning = 30 * 24 * time.Hour

// CertificateInfo describes the signing certificate inside a .p12 bundle.
type CertificateInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Serial    string    `json:"serial"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`
}

// Check fails for certificates outside their validity window and reports
// whether expiry falls within ExpiryWarning.
func (c CertificateInfo) Check(now time.Time) (expiringSoon bool, err error) {
	if now.Before(c.NotBefore) {
		return false, fmt.Errorf("%w: %s not valid before %s", ErrCertificate, c.Subject, c.NotBefore.Format(time.RFC3339))
	}
	if !now.Before(c.NotAfter) {
		return false, fmt.Errorf("%w: %s expired %s", ErrCertificate, c.Subject, c.NotAfter.Format(time.RFC3339))
	}
	return c.NotAfter.Sub(now) <= ExpiryWarning, nil
}

// InspectCertificate opens a PKCS#12 file and returns the leaf certificate
// details. Bundles with a CA chain are supported.
func InspectCertificate(path, password string) (CertificateInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("%w: %v", ErrCertificate, err)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("%w: decode %s: %v", ErrCertificate, path, err)
	}
	var leaf *x509.Certificate
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return CertificateInfo{}, fmt.Errorf("%w: parse certificate: %v", ErrCertificate, err)
		}
		if leaf == nil || !cert.IsCA {
			leaf = cert
		}
		if !cert.IsCA && cert.KeyUsage&x509.KeyUsageDigitalSignature != 0 {
			break
		}
	}
	if leaf == nil {
		return CertificateInfo{}, fmt.Errorf("%w: %s holds no certificate", ErrCertificate, path)
	}
	return CertificateInfo{
		Subject:   leaf.Subject.String(),
		Issuer:    leaf.Issuer.String(),
		Serial:    leaf.SerialNumber.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
	}, nil
}
