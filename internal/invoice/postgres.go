package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facturador/internal/platform/db"
	"github.com/odyssey-erp/facturador/internal/sri"
)

const uniqueViolation = "23505"

// PostgresStore persists invoices in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store wrapper around the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const invoiceColumns = `id::text, deal_id, environment, status,
buyer_id_type, buyer_tax_id, buyer_name, COALESCE(buyer_email, ''),
total_without_tax::text, total_discount::text, total_tax::text, grand_total::text,
sequential, access_key, issued_at, COALESCE(unsigned_xml, ''), COALESCE(signed_xml, ''),
reception_response, authorization_response, authorization_number, authorized_at,
receipt_path, error_message, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, inv *Invoice, entry AuditEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO invoices (
	id, deal_id, environment, status, buyer_id_type, buyer_tax_id, buyer_name, buyer_email,
	total_without_tax, total_discount, total_tax, grand_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9::numeric, $10::numeric, $11::numeric, $12::numeric)
RETURNING created_at, updated_at`,
			inv.ID, inv.DealID, string(inv.Environment), string(inv.Status),
			string(inv.Buyer.IDType), inv.Buyer.TaxID, inv.Buyer.LegalName, inv.Buyer.Email,
			inv.Totals.WithoutTax.String(), inv.Totals.Discount.String(), inv.Totals.Tax.String(), inv.Totals.Grand.String(),
		).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		batch := &pgx.Batch{}
		for _, item := range inv.Items {
			batch.Queue(`INSERT INTO invoice_items (
	invoice_id, position, code, auxiliary_code, description, quantity, unit_price, discount,
	net_amount, tax_base, tax_rate, tax_rate_code, tax_amount)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13::numeric)`,
				inv.ID, item.Position, item.Code, item.AuxiliaryCode, item.Description,
				item.Quantity.String(), item.UnitPrice.String(), item.Discount.String(),
				item.NetAmount.String(), item.TaxBase.String(), item.TaxRate.String(), item.TaxRateCode, item.TaxAmount.String())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		return insertAudit(ctx, tx, inv.ID, entry)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	items, err := s.items(ctx, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func (s *PostgresStore) GetByAccessKey(ctx context.Context, accessKey string) (Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE access_key = $1`, accessKey))
	if err != nil {
		return Invoice{}, err
	}
	items, err := s.items(ctx, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Environment != "" {
		args = append(args, string(filter.Environment))
		clauses = append(clauses, fmt.Sprintf("environment = $%d", len(args)))
	}
	if filter.DealID != "" {
		args = append(args, filter.DealID)
		clauses = append(clauses, fmt.Sprintf("deal_id = $%d", len(args)))
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// NextSequential increments the per-environment counter atomically.
func (s *PostgresStore) NextSequential(ctx context.Context, env sri.Environment) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `INSERT INTO invoice_sequences (environment, current)
VALUES ($1, 1)
ON CONFLICT (environment) DO UPDATE SET current = invoice_sequences.current + 1, updated_at = NOW()
RETURNING current`, string(env)).Scan(&next)
	return next, err
}

func (s *PostgresStore) AttachDocument(ctx context.Context, id string, doc Document, entry AuditEntry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `UPDATE invoices
SET access_key = $2, sequential = $3, issued_at = $4, unsigned_xml = $5, updated_at = NOW()
WHERE id = $1 AND status = 'DRAFT' AND access_key IS NULL`, id, doc.AccessKey, doc.Sequential, doc.IssuedAt, doc.XML)
		if err != nil {
			return mapError(err)
		}
		if cmd.RowsAffected() == 0 {
			return refusal(ctx, tx, id, []Status{StatusDraft}, StatusDraft)
		}
		return insertAudit(ctx, tx, id, entry)
	})
}

func (s *PostgresStore) ApplyTransition(ctx context.Context, id string, t Transition, entry AuditEntry) error {
	from := make([]string, 0, len(t.From))
	for _, st := range t.From {
		from = append(from, string(st))
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `UPDATE invoices SET
	status = $3,
	signed_xml = COALESCE(signed_xml, NULLIF($4, '')),
	reception_response = COALESCE(reception_response, $5::jsonb),
	authorization_response = COALESCE(authorization_response, $6::jsonb),
	authorization_number = COALESCE(authorization_number, NULLIF($7, '')),
	authorized_at = COALESCE(authorized_at, $8),
	error_message = COALESCE(NULLIF($9, ''), error_message),
	updated_at = NOW()
WHERE id = $1 AND status = ANY($2)`,
			id, from, string(t.To), t.SignedXML, jsonArg(t.ReceptionResponse), jsonArg(t.AuthorizationResponse),
			t.AuthorizationNumber, t.AuthorizedAt, truncate(t.ErrorMessage))
		if err != nil {
			return mapError(err)
		}
		if cmd.RowsAffected() == 0 {
			return refusal(ctx, tx, id, t.From, t.To)
		}
		return insertAudit(ctx, tx, id, entry)
	})
}

func (s *PostgresStore) AttachReceipt(ctx context.Context, id, path string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE invoices SET receipt_path = $2, updated_at = NOW()
WHERE id = $1 AND status = 'AUTHORIZED' AND receipt_path IS NULL`, id, path)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var (
		status  string
		receipt pgtype.Text
	)
	err = s.pool.QueryRow(ctx, `SELECT status, receipt_path FROM invoices WHERE id = $1`, id).Scan(&status, &receipt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if receipt.Valid {
		return ErrArtifactExists
	}
	return &StateError{ID: id, Current: Status(status), Allowed: []Status{StatusAuthorized}, Target: StatusAuthorized}
}

func (s *PostgresStore) AuditTrail(ctx context.Context, id string) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, invoice_id::text, status, message, metadata, created_at
FROM invoice_audit_logs WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			entry AuditEntry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.InvoiceID, &entry.Status, &entry.Message, &meta, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
	}
	return out, nil
}

func (s *PostgresStore) items(ctx context.Context, id string) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT position, code, COALESCE(auxiliary_code, ''), description,
quantity::text, unit_price::text, discount::text, net_amount::text, tax_base::text, tax_rate::text, tax_rate_code, tax_amount::text
FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			item                                       Item
			qty, price, discount, net, base, rate, tax string
		)
		if err := rows.Scan(&item.Position, &item.Code, &item.AuxiliaryCode, &item.Description,
			&qty, &price, &discount, &net, &base, &rate, &item.TaxRateCode, &tax); err != nil {
			return nil, err
		}
		parsed, err := parseDecimals(qty, price, discount, net, base, rate, tax)
		if err != nil {
			return nil, err
		}
		item.Quantity, item.UnitPrice, item.Discount = parsed[0], parsed[1], parsed[2]
		item.NetAmount, item.TaxBase, item.TaxRate, item.TaxAmount = parsed[3], parsed[4], parsed[5], parsed[6]
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                                      Invoice
		env, status, idType                      string
		withoutTax, discount, tax, grand         string
		sequential, accessKey, authNumber        pgtype.Text
		receiptPath, errorMessage                pgtype.Text
		issuedAt, authorizedAt                   pgtype.Timestamptz
		receptionResponse, authorizationResponse []byte
	)
	err := row.Scan(&inv.ID, &inv.DealID, &env, &status,
		&idType, &inv.Buyer.TaxID, &inv.Buyer.LegalName, &inv.Buyer.Email,
		&withoutTax, &discount, &tax, &grand,
		&sequential, &accessKey, &issuedAt, &inv.UnsignedXML, &inv.SignedXML,
		&receptionResponse, &authorizationResponse, &authNumber, &authorizedAt,
		&receiptPath, &errorMessage, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	inv.Environment = sri.Environment(env)
	inv.Status = Status(status)
	inv.Buyer.IDType = sri.IDType(idType)
	amounts, err := parseDecimals(withoutTax, discount, tax, grand)
	if err != nil {
		return Invoice{}, err
	}
	inv.Totals = Totals{WithoutTax: amounts[0], Discount: amounts[1], Tax: amounts[2], Grand: amounts[3]}
	inv.Sequential = sequential.String
	inv.AccessKey = accessKey.String
	inv.AuthorizationNumber = authNumber.String
	inv.ReceiptPath = receiptPath.String
	inv.ErrorMessage = errorMessage.String
	inv.ReceptionResponse = receptionResponse
	inv.AuthorizationResponse = authorizationResponse
	if issuedAt.Valid {
		ts := issuedAt.Time
		inv.IssuedAt = &ts
	}
	if authorizedAt.Valid {
		ts := authorizedAt.Time
		inv.AuthorizedAt = &ts
	}
	return inv, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, id string, entry AuditEntry) error {
	var meta []byte
	if len(entry.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}
	_, err := tx.Exec(ctx, `INSERT INTO invoice_audit_logs (invoice_id, status, message, metadata)
VALUES ($1, $2, $3, $4)`, id, string(entry.Status), entry.Message, jsonArg(meta))
	return err
}

// refusal explains why a guarded update matched no row.
func refusal(ctx context.Context, tx pgx.Tx, id string, allowed []Status, target Status) error {
	var (
		status    string
		accessKey pgtype.Text
	)
	err := tx.QueryRow(ctx, `SELECT status, access_key FROM invoices WHERE id = $1`, id).Scan(&status, &accessKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) == StatusDraft && target == StatusDraft && accessKey.Valid {
		return ErrArtifactExists
	}
	return &StateError{ID: id, Current: Status(status), Allowed: allowed, Target: target}
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrArtifactExists, pgErr.ConstraintName)
	}
	return err
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

func truncate(msg string) string {
	const limit = 2000
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
