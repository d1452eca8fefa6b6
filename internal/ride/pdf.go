package ride

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/odyssey-erp/facturador/internal/invoice"
)

// PDFRenderer lays out the RIDE locally with maroto.
type PDFRenderer struct {
	issuer invoice.Issuer
	dir    string
}

// NewPDFRenderer constructs a renderer writing into dir.
func NewPDFRenderer(issuer invoice.Issuer, dir string) *PDFRenderer {
	return &PDFRenderer{issuer: issuer, dir: dir}
}

func (r *PDFRenderer) Render(ctx context.Context, inv invoice.Invoice) (string, error) {
	if err := checkRenderable(inv); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	small := props.Text{Size: 8}
	bold := props.Text{Size: 9, Style: fontstyle.Bold}

	m.AddRow(30,
		col.New(6).Add(
			text.New(r.issuer.LegalName, props.Text{Size: 12, Style: fontstyle.Bold}),
			text.New(r.issuer.TradeName, props.Text{Top: 6, Size: 9}),
			text.New("Matriz: "+r.issuer.MainAddress, props.Text{Top: 12, Size: 8}),
			text.New("Obligado a llevar contabilidad: "+yesNo(r.issuer.KeepsAccounts), props.Text{Top: 18, Size: 8}),
		),
		col.New(6).Add(
			text.New("R.U.C.: "+r.issuer.RUC, props.Text{Size: 10, Style: fontstyle.Bold}),
			text.New("FACTURA", props.Text{Top: 6, Size: 12, Style: fontstyle.Bold}),
			text.New(fmt.Sprintf("No. %s-%s-%s", r.issuer.Establishment, r.issuer.EmissionPoint, inv.Sequential), props.Text{Top: 12, Size: 9}),
			text.New("Ambiente: "+environmentLabel(inv.Environment), props.Text{Top: 18, Size: 8}),
		),
	)
	m.AddRow(8,
		text.NewCol(12, "NÚMERO DE AUTORIZACIÓN: "+inv.AuthorizationNumber, bold),
	)
	m.AddRow(6,
		text.NewCol(12, "FECHA Y HORA DE AUTORIZACIÓN: "+formatTime(inv.AuthorizedAt, "02/01/2006 15:04:05"), small),
	)
	m.AddRow(6, text.NewCol(12, "CLAVE DE ACCESO", bold))
	m.AddRow(16, code.NewBarCol(12, inv.AccessKey, props.Barcode{Percent: 90, Center: true}))
	m.AddRow(6, text.NewCol(12, inv.AccessKey, props.Text{Size: 8, Align: align.Center}))

	m.AddRow(18,
		col.New(8).Add(
			text.New("Razón Social / Nombres: "+inv.Buyer.LegalName, small),
			text.New("Identificación: "+inv.Buyer.TaxID, props.Text{Top: 5, Size: 8}),
			text.New("Fecha de emisión: "+formatTime(inv.IssuedAt, "02/01/2006"), props.Text{Top: 10, Size: 8}),
		),
		col.New(4),
	)

	m.AddRow(8,
		text.NewCol(2, "Código", bold),
		text.NewCol(4, "Descripción", bold),
		text.NewCol(1, "Cant.", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(2, "P. Unitario", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(1, "Desc.", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	right := props.Text{Size: 8, Align: align.Right}
	for _, item := range inv.Items {
		m.AddRow(7,
			text.NewCol(2, item.Code, small),
			text.NewCol(4, item.Description, small),
			text.NewCol(1, item.Quantity.StringFixed(2), right),
			text.NewCol(2, item.UnitPrice.StringFixed(4), right),
			text.NewCol(1, item.Discount.StringFixed(2), right),
			text.NewCol(2, item.NetAmount.StringFixed(2), right),
		)
	}

	totals := [][2]string{
		{"SUBTOTAL SIN IMPUESTOS", inv.Totals.WithoutTax.StringFixed(2)},
		{"DESCUENTO", inv.Totals.Discount.StringFixed(2)},
	}
	for _, g := range invoice.GroupByRate(inv.Items) {
		totals = append(totals, [2]string{"IVA " + g.Rate.String() + "%", g.Amount.StringFixed(2)})
	}
	totals = append(totals, [2]string{"VALOR TOTAL", inv.Totals.Grand.StringFixed(2)})
	for _, line := range totals {
		m.AddRow(6,
			col.New(7),
			text.NewCol(3, line[0], small),
			text.NewCol(2, line[1], right),
		)
	}
	if inv.Buyer.Email != "" {
		m.AddRow(8, text.NewCol(12, "Email: "+inv.Buyer.Email, props.Text{Top: 2, Size: 8}))
	}

	doc, err := m.Generate()
	if err != nil {
		return "", fmt.Errorf("ride: generate pdf: %w", err)
	}
	return save(r.dir, inv.AccessKey, doc.GetBytes())
}

func formatTime(ts *time.Time, layout string) string {
	if ts == nil {
		return ""
	}
	return ts.Format(layout)
}

func yesNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}
