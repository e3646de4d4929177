/*
handlers.go - HTTP handlers for the invoice/payment ledger

PURPOSE:
  Exposes the ledger over REST. Handlers decode and validate the request,
  call exactly one ledger operation, publish the resulting events and write
  the aggregate back. No business rule lives here.

ENDPOINTS:
  Invoices (X-Company-ID required):
    GET    /api/invoices                     List (status, client_id, due_before, limit, offset)
    POST   /api/invoices                     Create draft
    GET    /api/invoices/{id}                Get with items and payments
    PATCH  /api/invoices/{id}                Edit
    DELETE /api/invoices/{id}                Delete draft
    POST   /api/invoices/{id}/send           Draft -> Sent
    POST   /api/invoices/{id}/cancel         Cancel
    POST   /api/invoices/{id}/mark-paid      Mark paid without a payment row
    POST   /api/invoices/{id}/duplicate      Copy into a new draft
    POST   /api/invoices/{id}/refresh        Re-run reconciliation (overdue)
    GET    /api/invoices/{id}/audit          Audit trail
    GET    /api/invoices/{id}/payments       Payment history
    POST   /api/invoices/{id}/payments       Record payment

  Payments (X-Company-ID required):
    GET    /api/payments/{id}                Get
    DELETE /api/payments/{id}                Delete pending/failed/cancelled
    POST   /api/payments/{id}/confirm        Pending -> Completed
    POST   /api/payments/{id}/fail           Pending -> Failed
    POST   /api/payments/{id}/cancel         Pending -> Cancelled
    POST   /api/payments/{id}/refund         Full or partial refund

  Scenarios / admin:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load one into the tenant
    POST   /api/admin/overdue-sweep          Run the overdue sweeper now

REQUEST FLOW:
  1. Decode JSON (unknown fields rejected)
  2. Validate with ledger.ValidateStruct
  3. Call the ledger
  4. Publish events (after commit, failures logged only)
  5. Write the aggregate

ERROR HANDLING:
  See errors.go. The handler never picks a status code for a ledger error.

SEE ALSO:
  - dto.go: request and response bodies
  - middleware.go: tenant and idempotency
  - server.go: routes
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Publisher events.Publisher

	sweeper *OverdueSweeper
	log     *logger.Logger
	now     func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSweeper enables POST /api/admin/overdue-sweep.
func WithSweeper(s *OverdueSweeper) HandlerOption {
	return func(h *Handler) { h.sweeper = s }
}

// WithEventClock sets the clock stamped on published events.
func WithEventClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a handler. A nil publisher discards events.
func NewHandler(l *ledger.Ledger, pub events.Publisher, log *logger.Logger, opts ...HandlerOption) *Handler {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{
		Ledger:    l,
		Publisher: pub,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns a page of the tenant's invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseInvoiceFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}
	filter.CompanyID = companyFrom(ctx)

	invoices, err := h.Ledger.ListInvoices(ctx, filter)
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	if invoices == nil {
		invoices = []*ledger.Invoice{}
	}
	writeJSON(w, http.StatusOK, ListInvoicesResponse{
		Invoices: invoices,
		Count:    len(invoices),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// CreateInvoice creates a Draft invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateInvoiceRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	inv, err := h.Ledger.CreateInvoice(ctx, req.toInput(companyFrom(ctx), actorFrom(ctx)))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoiceCreated, inv, h.now()))
	writeJSON(w, http.StatusCreated, inv)
}

// GetInvoice returns an invoice with its items and payments.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.GetInvoice(ctx, companyFrom(ctx), invoiceParam(r))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// UpdateInvoice applies a partial update.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateInvoiceRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	inv, err := h.Ledger.UpdateInvoice(ctx, companyFrom(ctx), invoiceParam(r), req.toPatch(actorFrom(ctx)))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoiceUpdated, inv, h.now()))
	writeJSON(w, http.StatusOK, inv)
}

// DeleteInvoice removes a Draft invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	company, id := companyFrom(ctx), invoiceParam(r)

	if err := h.Ledger.DeleteInvoice(ctx, company, id, actorFrom(ctx)); err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoiceDeleted,
		&ledger.Invoice{ID: id, CompanyID: company}, h.now()))
	w.WriteHeader(http.StatusNoContent)
}

// SendInvoice moves a Draft to Sent.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.SendInvoice(ctx, companyFrom(ctx), invoiceParam(r), actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	evts := []events.Event{events.ForInvoice(events.InvoiceSent, inv, h.now())}
	if inv.Status == ledger.InvoiceOverdue {
		evts = append(evts, events.ForInvoice(events.InvoiceOverdue, inv, h.now()))
	}
	h.publish(ctx, evts...)
	writeJSON(w, http.StatusOK, inv)
}

// CancelInvoice cancels an invoice that is not Paid.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReasonRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	inv, err := h.Ledger.CancelInvoice(ctx, companyFrom(ctx), invoiceParam(r), req.Reason, actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoiceCancelled, inv, h.now()))
	writeJSON(w, http.StatusOK, inv)
}

// MarkPaid settles an invoice outside the payment history.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.MarkPaid(ctx, companyFrom(ctx), invoiceParam(r), actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoicePaid, inv, h.now()))
	writeJSON(w, http.StatusOK, inv)
}

// DuplicateInvoice copies an invoice into a new Draft with a fresh number.
func (h *Handler) DuplicateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.Ledger.DuplicateInvoice(ctx, companyFrom(ctx), invoiceParam(r), actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForInvoice(events.InvoiceCreated, inv, h.now()))
	writeJSON(w, http.StatusCreated, inv)
}

// RefreshStatus re-runs reconciliation so an overdue invoice is flagged
// without waiting for the sweeper.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, changed, err := h.Ledger.RefreshStatus(ctx, companyFrom(ctx), invoiceParam(r))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	if changed && inv.Status == ledger.InvoiceOverdue {
		h.publish(ctx, events.ForInvoice(events.InvoiceOverdue, inv, h.now()))
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Invoice: inv, Changed: changed})
}

// GetAuditTrail returns the invoice's audit entries, oldest first.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.Ledger.AuditTrail(ctx, companyFrom(ctx), invoiceParam(r))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	if entries == nil {
		entries = []ledger.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns the payment history of an invoice.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payments, err := h.Ledger.ListPayments(ctx, companyFrom(ctx), invoiceParam(r))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	if payments == nil {
		payments = []ledger.Payment{}
	}
	writeJSON(w, http.StatusOK, ListPaymentsResponse{Payments: payments, Count: len(payments)})
}

// RecordPayment records a payment against an invoice.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RecordPaymentRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	company, invoiceID := companyFrom(ctx), invoiceParam(r)
	before := h.invoiceStatus(ctx, company, invoiceID)

	p, inv, err := h.Ledger.RecordPayment(ctx, req.toInput(company, invoiceID, actorFrom(ctx)))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publishPayment(ctx, events.PaymentRecorded, p, inv, before)
	writeJSON(w, http.StatusCreated, PaymentResponse{Payment: p, Invoice: inv})
}

// GetPayment returns one payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.Ledger.GetPayment(ctx, companyFrom(ctx), paymentParam(r))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ConfirmPayment settles a Pending payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	company, id := companyFrom(ctx), paymentParam(r)
	before := h.paymentInvoiceStatus(ctx, company, id)

	p, inv, err := h.Ledger.ConfirmPayment(ctx, company, id, actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publishPayment(ctx, events.PaymentConfirmed, p, inv, before)
	writeJSON(w, http.StatusOK, PaymentResponse{Payment: p, Invoice: inv})
}

// FailPayment marks a Pending payment as failed.
func (h *Handler) FailPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReasonRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	p, inv, err := h.Ledger.FailPayment(ctx, companyFrom(ctx), paymentParam(r), req.Reason, actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publishPayment(ctx, events.PaymentFailed, p, inv, "")
	writeJSON(w, http.StatusOK, PaymentResponse{Payment: p, Invoice: inv})
}

// CancelPayment cancels a Pending payment.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReasonRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	p, inv, err := h.Ledger.CancelPayment(ctx, companyFrom(ctx), paymentParam(r), req.Reason, actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publishPayment(ctx, events.PaymentCancelled, p, inv, "")
	writeJSON(w, http.StatusOK, PaymentResponse{Payment: p, Invoice: inv})
}

// RefundPayment refunds all or part of a settled payment. The response
// carries the refunded original (full refund) or the new negative row.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RefundRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	company, id := companyFrom(ctx), paymentParam(r)
	before := h.paymentInvoiceStatus(ctx, company, id)

	p, inv, err := h.Ledger.ProcessRefund(ctx, ledger.RefundInput{
		CompanyID:       company,
		PaymentID:       id,
		Amount:          req.Amount,
		Reason:          req.Reason,
		RefundReference: req.RefundReference,
		ActorID:         actorFrom(ctx),
	})
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publishPayment(ctx, events.PaymentRefunded, p, inv, before)
	writeJSON(w, http.StatusOK, PaymentResponse{Payment: p, Invoice: inv})
}

// DeletePayment removes an unsettled payment and returns the reconciled invoice.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	company, id := companyFrom(ctx), paymentParam(r)

	inv, err := h.Ledger.DeletePayment(ctx, company, id, actorFrom(ctx))
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	h.publish(ctx, events.ForPayment(events.PaymentDeleted,
		&ledger.Payment{ID: id, CompanyID: company, InvoiceID: inv.ID}, inv, h.now()))
	writeJSON(w, http.StatusOK, inv)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SweepOverdue runs the overdue sweeper synchronously.
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusNotFound, "Overdue sweeper is not configured", nil)
		return
	}
	res, err := h.sweeper.RunNow(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set. It writes the error response itself and
// reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeBodyError(w, err)
			return false
		}
	}
	if err := ledger.ValidateStruct(dst); err != nil {
		writeLedgerError(w, r, h.log, err)
		return false
	}
	return true
}

// publish sends events after the ledger committed. The request context may
// already be cancelled by then, so publishing detaches from it.
func (h *Handler) publish(ctx context.Context, evts ...events.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range evts {
		if err := h.Publisher.Publish(ctx, e); err != nil {
			h.log.Warnw("event not published",
				"event_name", e.Name,
				"company_id", e.CompanyID,
				"invoice_id", e.InvoiceID,
				"error", err)
		}
	}
}

// publishPayment publishes the payment event and, when the invoice status
// moved to Paid or Overdue, the matching invoice event.
func (h *Handler) publishPayment(ctx context.Context, name events.Name, p *ledger.Payment, inv *ledger.Invoice, before ledger.InvoiceStatus) {
	now := h.now()
	evts := []events.Event{events.ForPayment(name, p, inv, now)}
	if inv != nil && before != "" {
		if follow := events.StatusEvent(before, inv); follow != "" {
			evts = append(evts, events.ForInvoice(follow, inv, now))
		}
	}
	h.publish(ctx, evts...)
}

// invoiceStatus reads the status before a mutation. It is read outside the
// mutation's transaction, so the follow-up event is best effort under
// concurrent writers. Errors yield "" and are left to the mutation to report.
func (h *Handler) invoiceStatus(ctx context.Context, company ledger.CompanyID, id ledger.InvoiceID) ledger.InvoiceStatus {
	inv, err := h.Ledger.GetInvoice(ctx, company, id)
	if err != nil {
		return ""
	}
	return inv.Status
}

func (h *Handler) paymentInvoiceStatus(ctx context.Context, company ledger.CompanyID, id ledger.PaymentID) ledger.InvoiceStatus {
	p, err := h.Ledger.GetPayment(ctx, company, id)
	if err != nil {
		return ""
	}
	return h.invoiceStatus(ctx, company, p.InvoiceID)
}

func invoiceParam(r *http.Request) ledger.InvoiceID {
	return ledger.InvoiceID(chi.URLParam(r, "id"))
}

func paymentParam(r *http.Request) ledger.PaymentID {
	return ledger.PaymentID(chi.URLParam(r, "id"))
}

// parseInvoiceFilter reads ?status=sent,partial&client_id=&due_before=&limit=&offset=.
// status may also be repeated.
func parseInvoiceFilter(r *http.Request) (ledger.InvoiceFilter, error) {
	q := r.URL.Query()
	filter := ledger.InvoiceFilter{Limit: defaultPageSize}

	var raw []string
	for _, v := range q["status"] {
		raw = append(raw, strings.Split(v, ",")...)
	}
	for _, s := range lo.Uniq(lo.Compact(lo.Map(raw, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	}))) {
		status := ledger.InvoiceStatus(s)
		if err := status.Validate(); err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if c := q.Get("client_id"); c != "" {
		filter.ClientID = lo.ToPtr(ledger.ClientID(c))
	}
	if d := q.Get("due_before"); d != "" {
		t, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return filter, errors.New("due_before must be an RFC 3339 timestamp")
		}
		filter.DueBefore = &t
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxPageSize {
			return filter, errors.New("limit must be between 1 and " + strconv.Itoa(maxPageSize))
		}
		filter.Limit = n
	}
	if o := q.Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
