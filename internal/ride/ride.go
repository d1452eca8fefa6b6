// Package ride renders the RIDE (Representación Impresa del Documento
// Electrónico), the printable copy of an authorized invoice.
package ride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odyssey-erp/facturador/internal/invoice"
	"github.com/odyssey-erp/facturador/internal/sri"
)

// ErrNotRenderable is returned for invoices without an authorization.
var ErrNotRenderable = errors.New("ride: invoice is not authorized")

// Renderer writes a RIDE for an authorized invoice and returns its path.
type Renderer interface {
	Render(ctx context.Context, inv invoice.Invoice) (string, error)
}

// FileName is the RIDE file name for an access key.
func FileName(accessKey string) string {
	return fmt.Sprintf("RIDE_%s.pdf", accessKey)
}

func checkRenderable(inv invoice.Invoice) error {
	if inv.Status != invoice.StatusAuthorized || inv.AccessKey == "" {
		return fmt.Errorf("%w: %s is %s", ErrNotRenderable, inv.ID, inv.Status)
	}
	return nil
}

func save(dir, accessKey string, pdf []byte) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "ride")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(accessKey))
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func environmentLabel(env sri.Environment) string {
	if env == sri.EnvironmentProd {
		return "PRODUCCIÓN"
	}
	return "PRUEBAS"
}
