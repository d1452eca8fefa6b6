// Package invoice owns the electronic invoice record: its lifecycle state
// machine, the tax arithmetic and the factura document layout.
package invoice

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/sri"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusSigned     Status = "SIGNED"
	StatusSent       Status = "SENT"
	StatusAuthorized Status = "AUTHORIZED"
	StatusRejected   Status = "REJECTED"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusAuthorized || s == StatusRejected || s == StatusError
}

// Buyer identifies the customer printed on the document.
type Buyer struct {
	IDType    sri.IDType `json:"idType"`
	TaxID     string     `json:"taxId"`
	LegalName string     `json:"legalName"`
	Email     string     `json:"email,omitempty"`
}

// FinalConsumer is the anonymous buyer used when none is supplied.
func FinalConsumer() Buyer {
	return Buyer{IDType: sri.IDTypeFinalConsumer, TaxID: sri.FinalConsumerID, LegalName: sri.FinalConsumerName}
}

// Item is a persisted line with its computed amounts.
type Item struct {
	Position      int             `json:"position"`
	Code          string          `json:"code"`
	AuxiliaryCode string          `json:"auxiliaryCode,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	Discount      decimal.Decimal `json:"discount"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	TaxBase       decimal.Decimal `json:"taxBase"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	TaxRateCode   string          `json:"taxRateCode"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
}

// Totals are the document level aggregates.
type Totals struct {
	WithoutTax decimal.Decimal `json:"totalWithoutTax"`
	Discount   decimal.Decimal `json:"totalDiscount"`
	Tax        decimal.Decimal `json:"totalTax"`
	Grand      decimal.Decimal `json:"grandTotal"`
}

// Invoice is the persisted record. Artifact fields are write-once.
type Invoice struct {
	ID                    string          `json:"id"`
	DealID                string          `json:"dealId"`
	Environment           sri.Environment `json:"environment"`
	Status                Status          `json:"status"`
	Buyer                 Buyer           `json:"buyer"`
	Items                 []Item          `json:"items"`
	Totals                Totals          `json:"totals"`
	Sequential            string          `json:"sequential,omitempty"`
	AccessKey             string          `json:"accessKey,omitempty"`
	IssuedAt              *time.Time      `json:"issuedAt,omitempty"`
	UnsignedXML           string          `json:"-"`
	SignedXML             string          `json:"-"`
	ReceptionResponse     json.RawMessage `json:"receptionResponse,omitempty"`
	AuthorizationResponse json.RawMessage `json:"authorizationResponse,omitempty"`
	AuthorizationNumber   string          `json:"authorizationNumber,omitempty"`
	AuthorizedAt          *time.Time      `json:"authorizedAt,omitempty"`
	ReceiptPath           string          `json:"receiptPath,omitempty"`
	ErrorMessage          string          `json:"errorMessage,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// HasDocument reports whether the unsigned document has been generated.
func (inv Invoice) HasDocument() bool {
	return inv.AccessKey != "" && inv.UnsignedXML != ""
}

// AuditEntry is one append-only history row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	InvoiceID string         `json:"invoiceId"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ItemInput is a caller supplied line before amounts are computed.
type ItemInput struct {
	Code          string
	AuxiliaryCode string
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	Discount      decimal.Decimal
	// TaxRate overrides the configured default IVA percentage when set.
	TaxRate *decimal.Decimal
}

// DraftInput creates a DRAFT invoice.
type DraftInput struct {
	DealID      string
	Environment sri.Environment
	Buyer       *Buyer
	Items       []ItemInput
}

// Document is the output of document generation.
type Document struct {
	XML        string    `json:"-"`
	AccessKey  string    `json:"accessKey"`
	Sequential string    `json:"sequential"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status      Status
	Environment sri.Environment
	DealID      string
	Limit       int
	Offset      int
}

// Issuer is the emitting taxpayer.
type Issuer struct {
	RUC             string
	LegalName       string
	TradeName       string
	MainAddress     string
	BranchAddress   string
	Establishment   string
	EmissionPoint   string
	SpecialTaxpayer string
	KeepsAccounts   bool
}
