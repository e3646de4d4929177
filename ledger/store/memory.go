// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps. WithTx holds a single writer lock for the
// whole transaction, so transactions are fully serialized.
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	invoices map[ledger.InvoiceID]storedInvoice
	items    map[ledger.InvoiceID][]ledger.InvoiceItem
	payments map[ledger.PaymentID]ledger.Payment
	numbers  map[numberKey]ledger.InvoiceID
	highs    map[ledger.CompanyID]int64
	audit    []ledger.AuditEntry
	seq      int64
}

type storedInvoice struct {
	inv ledger.Invoice
	seq int64
}

type numberKey struct {
	CompanyID ledger.CompanyID
	Number    string
}

func NewMemory() *Memory {
	return &Memory{state: memoryState{
		invoices: make(map[ledger.InvoiceID]storedInvoice),
		items:    make(map[ledger.InvoiceID][]ledger.InvoiceItem),
		payments: make(map[ledger.PaymentID]ledger.Payment),
		numbers:  make(map[numberKey]ledger.InvoiceID),
		highs:    make(map[ledger.CompanyID]int64),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		invoices: make(map[ledger.InvoiceID]storedInvoice, len(s.invoices)),
		items:    make(map[ledger.InvoiceID][]ledger.InvoiceItem, len(s.items)),
		payments: make(map[ledger.PaymentID]ledger.Payment, len(s.payments)),
		numbers:  make(map[numberKey]ledger.InvoiceID, len(s.numbers)),
		highs:    make(map[ledger.CompanyID]int64, len(s.highs)),
		audit:    append([]ledger.AuditEntry{}, s.audit...),
		seq:      s.seq,
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]ledger.InvoiceItem{}, v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	for k, v := range s.highs {
		c.highs[k] = v
	}
	return c
}

// memoryTx is the transactional view. The parent lock is already held.
type memoryTx struct {
	state *memoryState
}

// =============================================================================
// INVOICES
// =============================================================================

func (t *memoryTx) GetInvoice(_ context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	stored, ok := t.state.invoices[id]
	if !ok || stored.inv.CompanyID != companyID {
		return nil, ledger.InvoiceNotFound(id)
	}
	inv := stored.inv
	inv.Items = append([]ledger.InvoiceItem{}, t.state.items[id]...)
	return &inv, nil
}

// GetInvoiceForUpdate needs no extra locking; the whole transaction is exclusive.
func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return t.GetInvoice(ctx, companyID, id)
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv *ledger.Invoice) error {
	key := numberKey{CompanyID: inv.CompanyID, Number: inv.InvoiceNumber}
	if _, taken := t.state.numbers[key]; taken {
		return ledger.NewErrorf("invoice number %s already used", inv.InvoiceNumber).
			Mark(ledger.ErrDuplicateInvoiceNumber)
	}
	t.state.seq++
	header := *inv
	header.Items, header.Payments = nil, nil
	t.state.invoices[inv.ID] = storedInvoice{inv: header, seq: t.state.seq}
	t.state.items[inv.ID] = append([]ledger.InvoiceItem{}, inv.Items...)
	t.state.numbers[key] = inv.ID
	return nil
}

func (t *memoryTx) UpdateInvoice(_ context.Context, inv *ledger.Invoice) error {
	stored, ok := t.state.invoices[inv.ID]
	if !ok || stored.inv.CompanyID != inv.CompanyID {
		return ledger.InvoiceNotFound(inv.ID)
	}
	if stored.inv.Version != inv.Version {
		return ledger.NewErrorf("invoice %s version %d, have %d", inv.ID, stored.inv.Version, inv.Version).
			Mark(ledger.ErrConcurrentModification)
	}
	inv.Version++
	header := *inv
	header.Items, header.Payments = nil, nil
	header.InvoiceNumber = stored.inv.InvoiceNumber
	stored.inv = header
	t.state.invoices[inv.ID] = stored
	return nil
}

func (t *memoryTx) ReplaceItems(_ context.Context, invoiceID ledger.InvoiceID, items []ledger.InvoiceItem) error {
	if _, ok := t.state.invoices[invoiceID]; !ok {
		return ledger.InvoiceNotFound(invoiceID)
	}
	t.state.items[invoiceID] = append([]ledger.InvoiceItem{}, items...)
	return nil
}

// DeleteInvoice keeps the number reserved; numbers are never reused.
func (t *memoryTx) DeleteInvoice(_ context.Context, companyID ledger.CompanyID, id ledger.InvoiceID) error {
	stored, ok := t.state.invoices[id]
	if !ok || stored.inv.CompanyID != companyID {
		return ledger.InvoiceNotFound(id)
	}
	delete(t.state.invoices, id)
	delete(t.state.items, id)
	for pid, p := range t.state.payments {
		if p.InvoiceID == id {
			delete(t.state.payments, pid)
		}
	}
	return nil
}

func (t *memoryTx) ListInvoices(_ context.Context, f ledger.InvoiceFilter) ([]*ledger.Invoice, error) {
	var matched []storedInvoice
	for _, stored := range t.state.invoices {
		inv := stored.inv
		if f.CompanyID != "" && inv.CompanyID != f.CompanyID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, inv.Status) {
			continue
		}
		if f.ClientID != nil && inv.ClientID != *f.ClientID {
			continue
		}
		if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
			continue
		}
		matched = append(matched, stored)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*ledger.Invoice{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	out := make([]*ledger.Invoice, 0, len(matched))
	for _, stored := range matched {
		inv := stored.inv
		out = append(out, &inv)
	}
	return out, nil
}

func (t *memoryTx) ListCompanies(_ context.Context) ([]ledger.CompanyID, error) {
	seen := make(map[ledger.CompanyID]bool)
	var out []ledger.CompanyID
	for _, stored := range t.state.invoices {
		if !seen[stored.inv.CompanyID] {
			seen[stored.inv.CompanyID] = true
			out = append(out, stored.inv.CompanyID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func containsStatus(statuses []ledger.InvoiceStatus, s ledger.InvoiceStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *memoryTx) GetPayment(_ context.Context, companyID ledger.CompanyID, id ledger.PaymentID) (*ledger.Payment, error) {
	p, ok := t.state.payments[id]
	if !ok || p.CompanyID != companyID {
		return nil, ledger.PaymentNotFound(id)
	}
	return &p, nil
}

func (t *memoryTx) ListPayments(_ context.Context, companyID ledger.CompanyID, invoiceID ledger.InvoiceID) ([]ledger.Payment, error) {
	out := []ledger.Payment{}
	for _, p := range t.state.payments {
		if p.CompanyID == companyID && p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.Compare(string(out[i].ID), string(out[j].ID)) < 0
	})
	return out, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p *ledger.Payment) error {
	if _, ok := t.state.invoices[p.InvoiceID]; !ok {
		return ledger.InvoiceNotFound(p.InvoiceID)
	}
	t.state.payments[p.ID] = *p
	return nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, p *ledger.Payment) error {
	stored, ok := t.state.payments[p.ID]
	if !ok || stored.CompanyID != p.CompanyID {
		return ledger.PaymentNotFound(p.ID)
	}
	t.state.payments[p.ID] = *p
	return nil
}

func (t *memoryTx) DeletePayment(_ context.Context, companyID ledger.CompanyID, id ledger.PaymentID) error {
	p, ok := t.state.payments[id]
	if !ok || p.CompanyID != companyID {
		return ledger.PaymentNotFound(id)
	}
	delete(t.state.payments, id)
	return nil
}

// =============================================================================
// SEQUENCES
// =============================================================================

func (t *memoryTx) LatestInvoiceNumber(_ context.Context, companyID ledger.CompanyID) (string, error) {
	var (
		latest string
		seq    int64
	)
	for _, stored := range t.state.invoices {
		if stored.inv.CompanyID == companyID && stored.seq > seq {
			latest, seq = stored.inv.InvoiceNumber, stored.seq
		}
	}
	return latest, nil
}

func (t *memoryTx) InvoiceNumberExists(_ context.Context, companyID ledger.CompanyID, number string) (bool, error) {
	_, ok := t.state.numbers[numberKey{CompanyID: companyID, Number: number}]
	return ok, nil
}

func (t *memoryTx) HighWaterMark(_ context.Context, companyID ledger.CompanyID) (int64, error) {
	return t.state.highs[companyID], nil
}

func (t *memoryTx) SetHighWaterMark(_ context.Context, companyID ledger.CompanyID, value int64) error {
	if value > t.state.highs[companyID] {
		t.state.highs[companyID] = value
	}
	return nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (t *memoryTx) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	t.state.audit = append(t.state.audit, entry)
	return nil
}

func (t *memoryTx) ListAudit(_ context.Context, companyID ledger.CompanyID, invoiceID ledger.InvoiceID) ([]ledger.AuditEntry, error) {
	out := []ledger.AuditEntry{}
	for _, e := range t.state.audit {
		if e.CompanyID == companyID && e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ ledger.Store = (*Memory)(nil)
