package sqlstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/warp/ledger-engine/ledger"
)

// txStore is the ledger.Tx view of one database transaction.
type txStore struct {
	tx      *sqlx.Tx
	dialect dialect
}

const invoiceColumns = `id, company_id, invoice_number, branch_id, client_id, appointment_id,
	subtotal, tax_rate, tax_amount, discount_type, discount_value, discount_amount,
	total, paid_amount, balance_amount, status, payment_status,
	invoice_date, due_date, sent_at, paid_at, cancelled_at,
	notes, terms, cancellation_reason, created_by, created_at, updated_at, version`

const itemColumns = `id, invoice_id, position, item_type, item_ref, description,
	quantity, unit_price, discount, tax_rate, total`

const paymentColumns = `id, company_id, invoice_id, client_id, amount, status, payment_method,
	reference, transaction_id, payment_gateway, notes, refund_of,
	payment_date, processed_at, created_at, updated_at`

const auditColumns = `id, company_id, invoice_id, payment_id, action, actor_id, detail, created_at`

func (t *txStore) get(ctx context.Context, dest any, query string, args ...any) error {
	return t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
}

func (t *txStore) sel(ctx context.Context, dest any, query string, args ...any) error {
	return t.tx.SelectContext(ctx, dest, t.tx.Rebind(query), args...)
}

func (t *txStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// INVOICES
// =============================================================================

func (t *txStore) GetInvoice(ctx context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return t.loadInvoice(ctx, companyID, id, "")
}

func (t *txStore) GetInvoiceForUpdate(ctx context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return t.loadInvoice(ctx, companyID, id, t.dialect.forUpdate)
}

func (t *txStore) loadInvoice(ctx context.Context, companyID ledger.CompanyID, id ledger.InvoiceID, lock string) (*ledger.Invoice, error) {
	var inv ledger.Invoice
	err := t.get(ctx, &inv,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? AND company_id = ?`+lock,
		id, companyID)
	if isNoRows(err) {
		return nil, ledger.InvoiceNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select invoice %s", id)
	}

	inv.Items = []ledger.InvoiceItem{}
	if err := t.sel(ctx, &inv.Items,
		`SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = ? ORDER BY position`,
		id); err != nil {
		return nil, errors.Wrapf(err, "select items of %s", id)
	}
	normalizeInvoice(&inv)
	return &inv, nil
}

func (t *txStore) InsertInvoice(ctx context.Context, inv *ledger.Invoice) error {
	row := utcInvoice(*inv)
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES (
			:id, :company_id, :invoice_number, :branch_id, :client_id, :appointment_id,
			:subtotal, :tax_rate, :tax_amount, :discount_type, :discount_value, :discount_amount,
			:total, :paid_amount, :balance_amount, :status, :payment_status,
			:invoice_date, :due_date, :sent_at, :paid_at, :cancelled_at,
			:notes, :terms, :cancellation_reason, :created_by, :created_at, :updated_at, :version)`,
		row)
	if isUniqueViolation(err) {
		return ledger.WithError(err).
			WithHintf("Invoice number %s is already used", inv.InvoiceNumber).
			Mark(ledger.ErrDuplicateInvoiceNumber)
	}
	if err != nil {
		return errors.Wrapf(err, "insert invoice %s", inv.ID)
	}
	return t.insertItems(ctx, inv.Items)
}

func (t *txStore) UpdateInvoice(ctx context.Context, inv *ledger.Invoice) error {
	row := utcInvoice(*inv)
	res, err := t.tx.NamedExecContext(ctx,
		`UPDATE invoices SET
			branch_id = :branch_id, appointment_id = :appointment_id,
			subtotal = :subtotal, tax_rate = :tax_rate, tax_amount = :tax_amount,
			discount_type = :discount_type, discount_value = :discount_value, discount_amount = :discount_amount,
			total = :total, paid_amount = :paid_amount, balance_amount = :balance_amount,
			status = :status, payment_status = :payment_status,
			invoice_date = :invoice_date, due_date = :due_date,
			sent_at = :sent_at, paid_at = :paid_at, cancelled_at = :cancelled_at,
			notes = :notes, terms = :terms, cancellation_reason = :cancellation_reason,
			updated_at = :updated_at, version = version + 1
		WHERE id = :id AND company_id = :company_id AND version = :version`,
		row)
	if err != nil {
		return errors.Wrapf(err, "update invoice %s", inv.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		var exists bool
		if err := t.get(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM invoices WHERE id = ? AND company_id = ?)`,
			inv.ID, inv.CompanyID); err != nil {
			return errors.Wrap(err, "check invoice exists")
		}
		if !exists {
			return ledger.InvoiceNotFound(inv.ID)
		}
		return ledger.NewErrorf("invoice %s changed since version %d", inv.ID, inv.Version).
			WithHint("The invoice was modified concurrently, retry the request").
			Mark(ledger.ErrConcurrentModification)
	}
	inv.Version++
	return nil
}

func (t *txStore) ReplaceItems(ctx context.Context, invoiceID ledger.InvoiceID, items []ledger.InvoiceItem) error {
	if _, err := t.exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, invoiceID); err != nil {
		return errors.Wrapf(err, "delete items of %s", invoiceID)
	}
	return t.insertItems(ctx, items)
}

func (t *txStore) insertItems(ctx context.Context, items []ledger.InvoiceItem) error {
	for _, it := range items {
		if _, err := t.tx.NamedExecContext(ctx,
			`INSERT INTO invoice_items (`+itemColumns+`) VALUES (
				:id, :invoice_id, :position, :item_type, :item_ref, :description,
				:quantity, :unit_price, :discount, :tax_rate, :total)`,
			it); err != nil {
			return errors.Wrapf(err, "insert item %s", it.ID)
		}
	}
	return nil
}

// DeleteInvoice removes the row; the number stays covered by the high-water mark.
func (t *txStore) DeleteInvoice(ctx context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) error {
	if _, err := t.exec(ctx, `DELETE FROM payments WHERE invoice_id = ? AND company_id = ?`, id, companyID); err != nil {
		return errors.Wrapf(err, "delete payments of %s", id)
	}
	if _, err := t.exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, id); err != nil {
		return errors.Wrapf(err, "delete items of %s", id)
	}
	n, err := t.exec(ctx, `DELETE FROM invoices WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return errors.Wrapf(err, "delete invoice %s", id)
	}
	if n == 0 {
		return ledger.InvoiceNotFound(id)
	}
	return nil
}

func (t *txStore) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) ([]*ledger.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1 = 1`
	var args []any
	if f.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, f.CompanyID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, lo.Map(f.Statuses, func(s ledger.InvoiceStatus, _ int) string { return string(s) }))
	}
	if f.ClientID != nil {
		query += ` AND client_id = ?`
		args = append(args, *f.ClientID)
	}
	if f.DueBefore != nil {
		query += ` AND due_date < ?`
		args = append(args, f.DueBefore.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	switch {
	case f.Limit > 0:
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	case f.Offset > 0 && t.dialect.name == DriverSQLite:
		// SQLite only accepts OFFSET after a LIMIT.
		query += ` LIMIT -1`
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "expand invoice filter")
	}
	rows := []ledger.Invoice{}
	if err := t.sel(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	out := make([]*ledger.Invoice, len(rows))
	for i := range rows {
		normalizeInvoice(&rows[i])
		out[i] = &rows[i]
	}
	return out, nil
}

func (t *txStore) ListCompanies(ctx context.Context) ([]ledger.CompanyID, error) {
	out := []ledger.CompanyID{}
	if err := t.sel(ctx, &out, `SELECT DISTINCT company_id FROM invoices ORDER BY company_id`); err != nil {
		return nil, errors.Wrap(err, "list companies")
	}
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *txStore) GetPayment(ctx context.Context, companyID ledger.CompanyID, id ledger.PaymentID) (*ledger.Payment, error) {
	var p ledger.Payment
	err := t.get(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? AND company_id = ?`,
		id, companyID)
	if isNoRows(err) {
		return nil, ledger.PaymentNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select payment %s", id)
	}
	normalizePayment(&p)
	return &p, nil
}

func (t *txStore) ListPayments(ctx context.Context, companyID ledger.CompanyID, invoiceID ledger.InvoiceID) ([]ledger.Payment, error) {
	out := []ledger.Payment{}
	if err := t.sel(ctx, &out,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE company_id = ? AND invoice_id = ?
		 ORDER BY created_at, id`,
		companyID, invoiceID); err != nil {
		return nil, errors.Wrapf(err, "list payments of %s", invoiceID)
	}
	for i := range out {
		normalizePayment(&out[i])
	}
	return out, nil
}

func (t *txStore) InsertPayment(ctx context.Context, p *ledger.Payment) error {
	row := utcPayment(*p)
	if _, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (
			:id, :company_id, :invoice_id, :client_id, :amount, :status, :payment_method,
			:reference, :transaction_id, :payment_gateway, :notes, :refund_of,
			:payment_date, :processed_at, :created_at, :updated_at)`,
		row); err != nil {
		return errors.Wrapf(err, "insert payment %s", p.ID)
	}
	return nil
}

func (t *txStore) UpdatePayment(ctx context.Context, p *ledger.Payment) error {
	row := utcPayment(*p)
	res, err := t.tx.NamedExecContext(ctx,
		`UPDATE payments SET
			amount = :amount, status = :status, reference = :reference,
			transaction_id = :transaction_id, payment_gateway = :payment_gateway,
			notes = :notes, processed_at = :processed_at, updated_at = :updated_at
		WHERE id = :id AND company_id = :company_id`,
		row)
	if err != nil {
		return errors.Wrapf(err, "update payment %s", p.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.PaymentNotFound(p.ID)
	}
	return nil
}

func (t *txStore) DeletePayment(ctx context.Context, companyID ledger.CompanyID, id ledger.PaymentID) error {
	n, err := t.exec(ctx, `DELETE FROM payments WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return errors.Wrapf(err, "delete payment %s", id)
	}
	if n == 0 {
		return ledger.PaymentNotFound(id)
	}
	return nil
}

// =============================================================================
// SEQUENCES
// =============================================================================

func (t *txStore) LatestInvoiceNumber(ctx context.Context, companyID ledger.CompanyID) (string, error) {
	var number string
	err := t.get(ctx, &number,
		`SELECT invoice_number FROM invoices WHERE company_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		companyID)
	if isNoRows(err) {
		return "", nil
	}
	return number, errors.Wrap(err, "latest invoice number")
}

func (t *txStore) InvoiceNumberExists(ctx context.Context, companyID ledger.CompanyID, number string) (bool, error) {
	var exists bool
	err := t.get(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM invoices WHERE company_id = ? AND invoice_number = ?)`,
		companyID, number)
	return exists, errors.Wrap(err, "invoice number exists")
}

func (t *txStore) HighWaterMark(ctx context.Context, companyID ledger.CompanyID) (int64, error) {
	var high int64
	err := t.get(ctx, &high,
		`SELECT high_water FROM invoice_number_sequences WHERE company_id = ?`, companyID)
	if isNoRows(err) {
		return 0, nil
	}
	return high, errors.Wrap(err, "read high-water mark")
}

// SetHighWaterMark only ever raises the stored value.
func (t *txStore) SetHighWaterMark(ctx context.Context, companyID ledger.CompanyID, value int64) error {
	_, err := t.exec(ctx,
		`INSERT INTO invoice_number_sequences (company_id, high_water) VALUES (?, ?)
		 ON CONFLICT (company_id) DO UPDATE SET high_water = excluded.high_water
		 WHERE invoice_number_sequences.high_water < excluded.high_water`,
		companyID, value)
	return errors.Wrap(err, "write high-water mark")
}

// =============================================================================
// AUDIT
// =============================================================================

func (t *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	entry.CreatedAt = entry.CreatedAt.UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO audit_log (`+auditColumns+`) VALUES (
			:id, :company_id, :invoice_id, :payment_id, :action, :actor_id, :detail, :created_at)`,
		entry)
	return errors.Wrap(err, "append audit entry")
}

func (t *txStore) ListAudit(ctx context.Context, companyID ledger.CompanyID, invoiceID ledger.InvoiceID) ([]ledger.AuditEntry, error) {
	out := []ledger.AuditEntry{}
	if err := t.sel(ctx, &out,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE company_id = ? AND invoice_id = ?
		 ORDER BY created_at, id`,
		companyID, invoiceID); err != nil {
		return nil, errors.Wrap(err, "list audit")
	}
	return out, nil
}

// =============================================================================
// ROW HELPERS
// =============================================================================

// utcInvoice stores every timestamp in UTC so text comparisons on SQLite stay ordered.
func utcInvoice(inv ledger.Invoice) ledger.Invoice {
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.DueDate = inv.DueDate.UTC()
	inv.SentAt = utcPtr(inv.SentAt)
	inv.PaidAt = utcPtr(inv.PaidAt)
	inv.CancelledAt = utcPtr(inv.CancelledAt)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv
}

func utcPayment(p ledger.Payment) ledger.Payment {
	p.PaymentDate = p.PaymentDate.UTC()
	p.ProcessedAt = utcPtr(p.ProcessedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// normalizeInvoice makes scanned rows look like the ones the ledger wrote.
func normalizeInvoice(inv *ledger.Invoice) {
	*inv = utcInvoice(*inv)
}

func normalizePayment(p *ledger.Payment) {
	*p = utcPayment(*p)
}
