package ride

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/odyssey-erp/facturador/internal/invoice"
)

//go:embed templates/ride.html
var templates embed.FS

// HTMLConverter turns an HTML page into PDF bytes. report.Client satisfies it.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// GotenbergRenderer fills an HTML template and converts it remotely.
type GotenbergRenderer struct {
	converter HTMLConverter
	issuer    invoice.Issuer
	dir       string
	tmpl      *template.Template
}

type htmlView struct {
	Issuer       invoice.Issuer
	Invoice      invoice.Invoice
	TaxGroups    []invoice.TaxGroup
	Environment  string
	IssuedAt     string
	AuthorizedAt string
}

// NewGotenbergRenderer parses the embedded template.
func NewGotenbergRenderer(converter HTMLConverter, issuer invoice.Issuer, dir string) (*GotenbergRenderer, error) {
	tmpl, err := template.ParseFS(templates, "templates/ride.html")
	if err != nil {
		return nil, fmt.Errorf("ride: parse template: %w", err)
	}
	return &GotenbergRenderer{converter: converter, issuer: issuer, dir: dir, tmpl: tmpl}, nil
}

func (r *GotenbergRenderer) Render(ctx context.Context, inv invoice.Invoice) (string, error) {
	if err := checkRenderable(inv); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, htmlView{
		Issuer:       r.issuer,
		Invoice:      inv,
		TaxGroups:    invoice.GroupByRate(inv.Items),
		Environment:  environmentLabel(inv.Environment),
		IssuedAt:     formatTime(inv.IssuedAt, "02/01/2006"),
		AuthorizedAt: formatTime(inv.AuthorizedAt, "02/01/2006 15:04:05"),
	}); err != nil {
		return "", fmt.Errorf("ride: execute template: %w", err)
	}
	pdf, err := r.converter.RenderHTML(ctx, buf.String())
	if err != nil {
		return "", fmt.Errorf("ride: convert html: %w", err)
	}
	return save(r.dir, inv.AccessKey, pdf)
}
