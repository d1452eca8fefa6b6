package invoice

import (
	"context"
	"encoding/json"
	"time"
)

// StatusView is the public status answer for one invoice.
type StatusView struct {
	ID          string      `json:"id"`
	AccessKey   *string     `json:"accessKey"`
	Status      Status      `json:"status"`
	IssueDate   *time.Time  `json:"issueDate"`
	BuyerName   string      `json:"buyerName"`
	BuyerTaxID  string      `json:"buyerTaxId"`
	TotalAmount json.Number `json:"totalAmount"`
	PDFPath     *string     `json:"pdfPath"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// NewStatusView projects an invoice without its documents.
func NewStatusView(inv Invoice) StatusView {
	view := StatusView{
		ID:          inv.ID,
		Status:      inv.Status,
		IssueDate:   inv.IssuedAt,
		BuyerName:   inv.Buyer.LegalName,
		BuyerTaxID:  inv.Buyer.TaxID,
		TotalAmount: json.Number(inv.Totals.Grand.StringFixed(2)),
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
	if inv.AccessKey != "" {
		key := inv.AccessKey
		view.AccessKey = &key
	}
	if inv.ReceiptPath != "" {
		path := inv.ReceiptPath
		view.PDFPath = &path
	}
	return view
}

// Status returns the status view of one invoice.
func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return NewStatusView(inv), nil
}
