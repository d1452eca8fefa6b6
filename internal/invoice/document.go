package invoice

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/facturador/internal/accesskey"
	"github.com/odyssey-erp/facturador/internal/sri"
)

const (
	documentID      = "comprobante"
	documentVersion = "1.0.0"
	xmldsigNS       = "http://www.w3.org/2000/09/xmldsig#"
	issueDateLayout = "02/01/2006"
)

// DocumentData is everything the factura layout needs.
type DocumentData struct {
	Issuer      Issuer
	Environment sri.Environment
	AccessKey   string
	Sequential  string
	IssuedAt    time.Time
	Buyer       Buyer
	Items       []Item
	Totals      Totals
}

type facturaXML struct {
	XMLName        xml.Name          `xml:"factura"`
	ID             string            `xml:"id,attr"`
	Version        string            `xml:"version,attr"`
	DS             string            `xml:"xmlns:ds,attr"`
	InfoTributaria infoTributariaXML `xml:"infoTributaria"`
	InfoFactura    infoFacturaXML    `xml:"infoFactura"`
	Detalles       []detalleXML      `xml:"detalles>detalle"`
	InfoAdicional  *infoAdicionalXML `xml:"infoAdicional,omitempty"`
}

type infoTributariaXML struct {
	Ambiente        string `xml:"ambiente"`
	TipoEmision     string `xml:"tipoEmision"`
	RazonSocial     string `xml:"razonSocial"`
	NombreComercial string `xml:"nombreComercial,omitempty"`
	RUC             string `xml:"ruc"`
	ClaveAcceso     string `xml:"claveAcceso"`
	CodDoc          string `xml:"codDoc"`
	Estab           string `xml:"estab"`
	PtoEmi          string `xml:"ptoEmi"`
	Secuencial      string `xml:"secuencial"`
	DirMatriz       string `xml:"dirMatriz"`
}

type infoFacturaXML struct {
	FechaEmision                string             `xml:"fechaEmision"`
	DirEstablecimiento          string             `xml:"dirEstablecimiento,omitempty"`
	ContribuyenteEspecial       string             `xml:"contribuyenteEspecial,omitempty"`
	ObligadoContabilidad        string             `xml:"obligadoContabilidad"`
	TipoIdentificacionComprador string             `xml:"tipoIdentificacionComprador"`
	RazonSocialComprador        string             `xml:"razonSocialComprador"`
	IdentificacionComprador     string             `xml:"identificacionComprador"`
	TotalSinImpuestos           string             `xml:"totalSinImpuestos"`
	TotalDescuento              string             `xml:"totalDescuento"`
	TotalConImpuestos           []totalImpuestoXML `xml:"totalConImpuestos>totalImpuesto"`
	Propina                     string             `xml:"propina"`
	ImporteTotal                string             `xml:"importeTotal"`
	Moneda                      string             `xml:"moneda"`
	Pagos                       []pagoXML          `xml:"pagos>pago"`
}

type totalImpuestoXML struct {
	Codigo           string `xml:"codigo"`
	CodigoPorcentaje string `xml:"codigoPorcentaje"`
	BaseImponible    string `xml:"baseImponible"`
	Valor            string `xml:"valor"`
}

type pagoXML struct {
	FormaPago    string `xml:"formaPago"`
	Total        string `xml:"total"`
	Plazo        string `xml:"plazo"`
	UnidadTiempo string `xml:"unidadTiempo"`
}

type detalleXML struct {
	CodigoPrincipal        string        `xml:"codigoPrincipal"`
	CodigoAuxiliar         string        `xml:"codigoAuxiliar,omitempty"`
	Descripcion            string        `xml:"descripcion"`
	Cantidad               string        `xml:"cantidad"`
	PrecioUnitario         string        `xml:"precioUnitario"`
	Descuento              string        `xml:"descuento"`
	PrecioTotalSinImpuesto string        `xml:"precioTotalSinImpuesto"`
	Impuestos              []impuestoXML `xml:"impuestos>impuesto"`
}

type impuestoXML struct {
	Codigo           string `xml:"codigo"`
	CodigoPorcentaje string `xml:"codigoPorcentaje"`
	Tarifa           string `xml:"tarifa"`
	BaseImponible    string `xml:"baseImponible"`
	Valor            string `xml:"valor"`
}

type infoAdicionalXML struct {
	Campos []campoAdicionalXML `xml:"campoAdicional"`
}

type campoAdicionalXML struct {
	Nombre string `xml:"nombre,attr"`
	Value  string `xml:",chardata"`
}

// BuildDocument renders the unsigned factura. Any failure is returned
// wrapped in ErrDocumentGeneration.
func BuildDocument(data DocumentData) (string, error) {
	if err := checkDocumentData(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDocumentGeneration, err)
	}
	doc := facturaXML{
		ID:      documentID,
		Version: documentVersion,
		DS:      xmldsigNS,
		InfoTributaria: infoTributariaXML{
			Ambiente:        data.Environment.Code(),
			TipoEmision:     sri.EmissionTypeNormal,
			RazonSocial:     text(data.Issuer.LegalName),
			NombreComercial: text(data.Issuer.TradeName),
			RUC:             data.Issuer.RUC,
			ClaveAcceso:     data.AccessKey,
			CodDoc:          sri.DocumentTypeInvoice,
			Estab:           data.Issuer.Establishment,
			PtoEmi:          data.Issuer.EmissionPoint,
			Secuencial:      data.Sequential,
			DirMatriz:       text(data.Issuer.MainAddress),
		},
		InfoFactura: infoFacturaXML{
			FechaEmision:                data.IssuedAt.Format(issueDateLayout),
			DirEstablecimiento:          text(data.Issuer.BranchAddress),
			ContribuyenteEspecial:       data.Issuer.SpecialTaxpayer,
			ObligadoContabilidad:        yesNo(data.Issuer.KeepsAccounts),
			TipoIdentificacionComprador: data.Buyer.IDType.Code(),
			RazonSocialComprador:        text(data.Buyer.LegalName),
			IdentificacionComprador:     data.Buyer.TaxID,
			TotalSinImpuestos:           money(data.Totals.WithoutTax),
			TotalDescuento:              money(data.Totals.Discount),
			Propina:                     money(decimal.Zero),
			ImporteTotal:                money(data.Totals.Grand),
			Moneda:                      sri.Currency,
			Pagos: []pagoXML{{
				FormaPago:    sri.PaymentWithoutFinancialSystem,
				Total:        money(data.Totals.Grand),
				Plazo:        "0",
				UnidadTiempo: "dias",
			}},
		},
	}
	for _, g := range GroupByRate(data.Items) {
		doc.InfoFactura.TotalConImpuestos = append(doc.InfoFactura.TotalConImpuestos, totalImpuestoXML{
			Codigo:           sri.TaxCodeIVA,
			CodigoPorcentaje: g.RateCode,
			BaseImponible:    money(g.Base),
			Valor:            money(g.Amount),
		})
	}
	for _, item := range data.Items {
		doc.Detalles = append(doc.Detalles, detalleXML{
			CodigoPrincipal:        text(item.Code),
			CodigoAuxiliar:         text(item.AuxiliaryCode),
			Descripcion:            text(item.Description),
			Cantidad:               item.Quantity.StringFixed(4),
			PrecioUnitario:         item.UnitPrice.StringFixed(4),
			Descuento:              money(item.Discount),
			PrecioTotalSinImpuesto: money(item.NetAmount),
			Impuestos: []impuestoXML{{
				Codigo:           sri.TaxCodeIVA,
				CodigoPorcentaje: item.TaxRateCode,
				Tarifa:           item.TaxRate.StringFixed(2),
				BaseImponible:    money(item.TaxBase),
				Valor:            money(item.TaxAmount),
			}},
		})
	}
	if data.Buyer.Email != "" {
		doc.InfoAdicional = &infoAdicionalXML{Campos: []campoAdicionalXML{{Nombre: "email", Value: data.Buyer.Email}}}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDocumentGeneration, err)
	}
	return xml.Header + string(out), nil
}

func checkDocumentData(data DocumentData) error {
	if !accesskey.Validate(data.AccessKey) {
		return fmt.Errorf("access key %q is not valid", data.AccessKey)
	}
	if len(data.Sequential) != 9 {
		return fmt.Errorf("sequential %q must have 9 digits", data.Sequential)
	}
	if data.Issuer.RUC == "" || data.Issuer.LegalName == "" {
		return fmt.Errorf("issuer RUC and legal name are required")
	}
	if !data.Buyer.IDType.Valid() {
		return fmt.Errorf("buyer id type %q is not valid", data.Buyer.IDType)
	}
	if len(data.Items) == 0 {
		return fmt.Errorf("document has no items")
	}
	if data.IssuedAt.IsZero() {
		return fmt.Errorf("issue date is required")
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func text(s string) string {
	return norm.NFC.String(s)
}

func yesNo(b bool) string {
	if b {
		return "SI"
	}
	return "NO"
}
