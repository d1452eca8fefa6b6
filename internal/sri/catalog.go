package sri

import (
	"github.com/shopspring/decimal"
)

const (
	// DocumentTypeInvoice is codDoc for a factura.
	DocumentTypeInvoice = "01"
	// EmissionTypeNormal is the only emission type issued online.
	EmissionTypeNormal = "1"
	// TaxCodeIVA identifies value-added tax in impuesto elements.
	TaxCodeIVA = "2"
	// Currency is the moneda value for USD documents.
	Currency = "DOLAR"
	// PaymentWithoutFinancialSystem is formaPago 01.
	PaymentWithoutFinancialSystem = "01"

	// FinalConsumerName and FinalConsumerID identify an anonymous buyer.
	FinalConsumerName = "CONSUMIDOR FINAL"
	FinalConsumerID   = "9999999999999"
)

// IDType is the buyer identification kind.
type IDType string

const (
	IDTypeRUC           IDType = "RUC"
	IDTypeCedula        IDType = "CEDULA"
	IDTypePassport      IDType = "PASAPORTE"
	IDTypeFinalConsumer IDType = "CONSUMIDOR_FINAL"
)

var idTypeCodes = map[IDType]string{
	IDTypeRUC:           "04",
	IDTypeCedula:        "05",
	IDTypePassport:      "06",
	IDTypeFinalConsumer: "07",
}

// Code returns tipoIdentificacionComprador for the type.
func (t IDType) Code() string {
	return idTypeCodes[t]
}

// Valid reports whether t is a known identification type.
func (t IDType) Valid() bool {
	_, ok := idTypeCodes[t]
	return ok
}

// IDTypeFromCode resolves a two digit catalog code.
func IDTypeFromCode(code string) (IDType, bool) {
	for t, c := range idTypeCodes {
		if c == code {
			return t, true
		}
	}
	return "", false
}

// IVA percentage to codigoPorcentaje.
var ivaRateCodes = map[string]string{
	"0":  "0",
	"5":  "5",
	"12": "2",
	"13": "10",
	"14": "3",
	"15": "4",
}

// IVARateCode returns the codigoPorcentaje for an IVA percentage.
func IVARateCode(rate decimal.Decimal) (string, bool) {
	code, ok := ivaRateCodes[rate.Truncate(2).String()]
	return code, ok
}
