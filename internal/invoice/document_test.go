package invoice

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facturador/internal/accesskey"
	"github.com/odyssey-erp/facturador/internal/sri"
)

func testIssuer() Issuer {
	return Issuer{
		RUC:           "1790012345001",
		LegalName:     "Compañía Ejemplo S.A.",
		TradeName:     "Ejemplo",
		MainAddress:   "Av. Amazonas N1-23, Quito",
		BranchAddress: "Av. Amazonas N1-23, Quito",
		Establishment: "001",
		EmissionPoint: "001",
		KeepsAccounts: true,
	}
}

func testDocumentData(t *testing.T) DocumentData {
	t.Helper()
	issued := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	key, err := accesskey.Generate(accesskey.Params{
		IssueDate:     issued,
		DocumentType:  sri.DocumentTypeInvoice,
		TaxpayerID:    "1790012345001",
		Environment:   sri.EnvironmentTest,
		Establishment: "001",
		EmissionPoint: "001",
		Sequential:    "1",
		NumericCode:   "12345678",
	})
	require.NoError(t, err)
	items, totals, err := CalculateTotals([]ItemInput{
		{Code: "SRV001", Description: "Servicio Deal #42", Quantity: dec("1"), UnitPrice: dec("100")},
	}, dec("15"))
	require.NoError(t, err)
	return DocumentData{
		Issuer:      testIssuer(),
		Environment: sri.EnvironmentTest,
		AccessKey:   key,
		Sequential:  "000000001",
		IssuedAt:    issued,
		Buyer:       Buyer{IDType: sri.IDTypeRUC, TaxID: "0991234567001", LegalName: "Cliente S.A.", Email: "cliente@example.com"},
		Items:       items,
		Totals:      totals,
	}
}

func TestBuildDocumentLayout(t *testing.T) {
	data := testDocumentData(t)
	out, err := BuildDocument(data)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, xml.Header))
	require.Contains(t, out, `<factura id="comprobante" version="1.0.0" xmlns:ds="http://www.w3.org/2000/09/xmldsig#">`)

	var doc facturaXML
	require.NoError(t, xml.Unmarshal([]byte(out), &doc))
	require.Equal(t, "1", doc.InfoTributaria.Ambiente)
	require.Equal(t, data.AccessKey, doc.InfoTributaria.ClaveAcceso)
	require.Equal(t, "01", doc.InfoTributaria.CodDoc)
	require.Equal(t, "000000001", doc.InfoTributaria.Secuencial)
	require.Equal(t, "14/05/2024", doc.InfoFactura.FechaEmision)
	require.Equal(t, "SI", doc.InfoFactura.ObligadoContabilidad)
	require.Equal(t, "04", doc.InfoFactura.TipoIdentificacionComprador)
	require.Equal(t, "100.00", doc.InfoFactura.TotalSinImpuestos)
	require.Equal(t, "0.00", doc.InfoFactura.TotalDescuento)
	require.Equal(t, "115.00", doc.InfoFactura.ImporteTotal)
	require.Equal(t, "DOLAR", doc.InfoFactura.Moneda)
	require.Len(t, doc.InfoFactura.TotalConImpuestos, 1)
	require.Equal(t, "4", doc.InfoFactura.TotalConImpuestos[0].CodigoPorcentaje)
	require.Equal(t, "15.00", doc.InfoFactura.TotalConImpuestos[0].Valor)
	require.Len(t, doc.InfoFactura.Pagos, 1)
	require.Equal(t, "115.00", doc.InfoFactura.Pagos[0].Total)

	require.Len(t, doc.Detalles, 1)
	d := doc.Detalles[0]
	require.Equal(t, "SRV001", d.CodigoPrincipal)
	require.Equal(t, "1.0000", d.Cantidad)
	require.Equal(t, "100.0000", d.PrecioUnitario)
	require.Equal(t, "15.00", d.Impuestos[0].Tarifa)
	require.Equal(t, "100.00", d.Impuestos[0].BaseImponible)

	require.NotNil(t, doc.InfoAdicional)
	require.Equal(t, "email", doc.InfoAdicional.Campos[0].Nombre)
	require.Equal(t, "cliente@example.com", doc.InfoAdicional.Campos[0].Value)
}

func TestBuildDocumentOmitsOptionalSections(t *testing.T) {
	data := testDocumentData(t)
	data.Buyer = FinalConsumer()
	out, err := BuildDocument(data)
	require.NoError(t, err)
	require.NotContains(t, out, "infoAdicional")
	require.NotContains(t, out, "contribuyenteEspecial")
	require.Contains(t, out, "<tipoIdentificacionComprador>07</tipoIdentificacionComprador>")
	require.Contains(t, out, "<identificacionComprador>9999999999999</identificacionComprador>")
}

func TestBuildDocumentFailuresAreWrapped(t *testing.T) {
	data := testDocumentData(t)
	data.AccessKey = data.AccessKey[:48]
	_, err := BuildDocument(data)
	require.ErrorIs(t, err, ErrDocumentGeneration)

	data = testDocumentData(t)
	data.Items = nil
	_, err = BuildDocument(data)
	require.ErrorIs(t, err, ErrDocumentGeneration)
}
