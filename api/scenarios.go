/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the calling tenant with invoices that walk through the ledger's
  behaviour, for demos and for manual testing of a fresh deployment.
  Every step goes through the public ledger API, so a scenario exercises
  the same paths as a real client and publishes the same events.

AVAILABLE SCENARIOS:
  totals:          items 80 + 65, fixed discount 10, tax 10% -> total 148.50
  partial-payment: 150 invoice paid 75 + 75 -> Partial, then Paid
  overpayment:     80 against a 75 balance is rejected, invoice unchanged
  full-refund:     150 paid in full, refunded in full -> back to Sent/Pending
  overdue:         invoice sent after its due date -> Overdue
  pending-payment: gateway payment recorded Pending, then confirmed

USAGE VIA API:
  POST /api/scenarios/load
  X-Company-ID: co_demo
  {"scenario_id": "partial-payment"}

ADDING NEW SCENARIOS:
  1. Add to 'scenarios' with ID, name, description
  2. Add a loader to 'scenarioLoaders'

NOTE:
  Scenarios only add data. Nothing is reset or deleted.

SEE ALSO:
  - handlers.go: routes
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "totals",
		Name:        "Totals",
		Description: "Two items, fixed discount and invoice tax: 145 - 10 + 13.50 = 148.50",
	},
	{
		ID:          "partial-payment",
		Name:        "Partial Payment",
		Description: "150 invoice paid in two instalments of 75",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment Rejected",
		Description: "Paying 80 against a balance of 75 fails and changes nothing",
	},
	{
		ID:          "full-refund",
		Name:        "Full Refund",
		Description: "Fully paid invoice whose only payment is refunded in full",
	},
	{
		ID:          "overdue",
		Name:        "Overdue",
		Description: "Invoice sent after its due date becomes Overdue",
	},
	{
		ID:          "pending-payment",
		Name:        "Pending Gateway Payment",
		Description: "Payment recorded as pending, then confirmed",
	},
}

type scenarioLoader func(s *seeder) error

var scenarioLoaders = map[string]scenarioLoader{
	"totals":          loadTotalsScenario,
	"partial-payment": loadPartialPaymentScenario,
	"overpayment":     loadOverpaymentScenario,
	"full-refund":     loadFullRefundScenario,
	"overdue":         loadOverdueScenario,
	"pending-payment": loadPendingPaymentScenario,
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds one scenario into the caller's tenant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoadScenarioRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	s := &seeder{
		h:       h,
		ctx:     ctx,
		company: companyFrom(ctx),
		actor:   actorFrom(ctx),
		res:     &ScenarioResult{ScenarioID: req.ScenarioID, CompanyID: companyFrom(ctx)},
	}
	if err := load(s); err != nil {
		writeLedgerError(w, r, h.log, errors.Wrapf(err, "load scenario %s", req.ScenarioID))
		return
	}

	h.log.Infow("scenario loaded",
		"scenario_id", req.ScenarioID,
		"company_id", s.company,
		"invoices", len(s.res.Invoices))
	writeJSON(w, http.StatusCreated, s.res)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadTotalsScenario(s *seeder) error {
	inv, err := s.create("cl_totals", func(in *ledger.CreateInvoiceInput) {
		in.DiscountType = ledger.DiscountFixed
		in.DiscountValue = money.MustParse("10")
		in.TaxRate = money.MustParse("10")
	}, item("Consultation", "1", "80"), item("Follow-up", "1", "65"))
	if err != nil {
		return err
	}
	s.step("created %s: subtotal %s, discount %s, tax %s, total %s",
		inv.InvoiceNumber, inv.Subtotal.StringFixed(2), inv.DiscountAmount.StringFixed(2),
		inv.TaxAmount.StringFixed(2), inv.Total.StringFixed(2))
	_, err = s.send(inv)
	return err
}

func loadPartialPaymentScenario(s *seeder) error {
	inv, err := s.sentInvoice("cl_partial", "150")
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if inv, err = s.pay(inv, "75"); err != nil {
			return err
		}
	}
	return nil
}

func loadOverpaymentScenario(s *seeder) error {
	inv, err := s.sentInvoice("cl_overpay", "150")
	if err != nil {
		return err
	}
	if inv, err = s.pay(inv, "75"); err != nil {
		return err
	}
	if _, err := s.pay(inv, "80"); !errors.Is(err, ledger.ErrAmountExceedsBalance) {
		return errors.Newf("expected overpayment to be rejected, got %v", err)
	}
	s.step("payment of 80.00 rejected: balance is %s", inv.BalanceAmount.StringFixed(2))
	return nil
}

func loadFullRefundScenario(s *seeder) error {
	inv, err := s.sentInvoice("cl_refund", "150")
	if err != nil {
		return err
	}
	p, paid, err := s.h.Ledger.RecordPayment(s.ctx, s.paymentInput(inv, "150", false))
	if err != nil {
		return err
	}
	s.h.publishPayment(s.ctx, events.PaymentRecorded, p, paid, inv.Status)
	s.step("paid 150.00: status %s/%s", paid.Status, paid.PaymentStatus)

	refunded, after, err := s.h.Ledger.ProcessRefund(s.ctx, ledger.RefundInput{
		CompanyID: s.company,
		PaymentID: p.ID,
		Amount:    money.MustParse("150"),
		Reason:    "Service not delivered",
		ActorID:   s.actor,
	})
	if err != nil {
		return err
	}
	s.h.publishPayment(s.ctx, events.PaymentRefunded, refunded, after, paid.Status)
	s.step("refunded 150.00: payment %s, invoice %s/%s, balance %s",
		refunded.Status, after.Status, after.PaymentStatus, after.BalanceAmount.StringFixed(2))
	s.track(after)
	return nil
}

func loadOverdueScenario(s *seeder) error {
	now := s.h.now()
	inv, err := s.create("cl_overdue", func(in *ledger.CreateInvoiceInput) {
		in.InvoiceDate = now.AddDate(0, 0, -45)
		due := now.AddDate(0, 0, -15)
		in.DueDate = &due
	}, item("Annual maintenance", "1", "300"))
	if err != nil {
		return err
	}
	_, err = s.send(inv)
	return err
}

func loadPendingPaymentScenario(s *seeder) error {
	inv, err := s.sentInvoice("cl_gateway", "120")
	if err != nil {
		return err
	}
	in := s.paymentInput(inv, "120", true)
	in.Method = ledger.MethodOnline
	in.PaymentGateway = strPtr("demo-gateway")
	in.TransactionID = strPtr("txn_demo_0001")

	p, pending, err := s.h.Ledger.RecordPayment(s.ctx, in)
	if err != nil {
		return err
	}
	s.h.publishPayment(s.ctx, events.PaymentRecorded, p, pending, inv.Status)
	s.step("recorded pending payment %s: invoice still %s, balance %s",
		p.ID, pending.Status, pending.BalanceAmount.StringFixed(2))

	confirmed, after, err := s.h.Ledger.ConfirmPayment(s.ctx, s.company, p.ID, s.actor)
	if err != nil {
		return err
	}
	s.h.publishPayment(s.ctx, events.PaymentConfirmed, confirmed, after, pending.Status)
	s.step("confirmed payment %s: invoice %s", confirmed.ID, after.Status)
	s.track(after)
	return nil
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder runs ledger calls for one scenario and records what happened.
type seeder struct {
	h       *Handler
	ctx     context.Context
	company ledger.CompanyID
	actor   string
	res     *ScenarioResult
}

func (s *seeder) step(format string, args ...any) {
	s.res.Steps = append(s.res.Steps, fmt.Sprintf(format, args...))
}

// track records the latest snapshot of an invoice in the result.
func (s *seeder) track(inv *ledger.Invoice) {
	for i, existing := range s.res.Invoices {
		if existing.ID == inv.ID {
			s.res.Invoices[i] = inv
			return
		}
	}
	s.res.Invoices = append(s.res.Invoices, inv)
}

func (s *seeder) create(client string, customize func(*ledger.CreateInvoiceInput), items ...ledger.ItemInput) (*ledger.Invoice, error) {
	in := ledger.CreateInvoiceInput{
		CompanyID: s.company,
		BranchID:  "br_demo",
		ClientID:  ledger.ClientID(client),
		Items:     items,
		CreatedBy: s.actor,
	}
	if customize != nil {
		customize(&in)
	}
	inv, err := s.h.Ledger.CreateInvoice(s.ctx, in)
	if err != nil {
		return nil, err
	}
	s.h.publish(s.ctx, events.ForInvoice(events.InvoiceCreated, inv, s.h.now()))
	s.track(inv)
	return inv, nil
}

func (s *seeder) send(inv *ledger.Invoice) (*ledger.Invoice, error) {
	sent, err := s.h.Ledger.SendInvoice(s.ctx, s.company, inv.ID, s.actor)
	if err != nil {
		return nil, err
	}
	s.h.publish(s.ctx, events.ForInvoice(events.InvoiceSent, sent, s.h.now()))
	s.step("sent %s: status %s/%s", sent.InvoiceNumber, sent.Status, sent.PaymentStatus)
	s.track(sent)
	return sent, nil
}

func (s *seeder) sentInvoice(client, amount string) (*ledger.Invoice, error) {
	inv, err := s.create(client, nil, item("Treatment package", "1", amount))
	if err != nil {
		return nil, err
	}
	return s.send(inv)
}

func (s *seeder) paymentInput(inv *ledger.Invoice, amount string, pending bool) ledger.RecordPaymentInput {
	return ledger.RecordPaymentInput{
		CompanyID: s.company,
		InvoiceID: inv.ID,
		ClientID:  inv.ClientID,
		Amount:    money.MustParse(amount),
		Method:    ledger.MethodCard,
		Pending:   pending,
		ActorID:   s.actor,
	}
}

// pay records a settled payment and returns the reconciled invoice.
func (s *seeder) pay(inv *ledger.Invoice, amount string) (*ledger.Invoice, error) {
	p, after, err := s.h.Ledger.RecordPayment(s.ctx, s.paymentInput(inv, amount, false))
	if err != nil {
		return nil, err
	}
	s.h.publishPayment(s.ctx, events.PaymentRecorded, p, after, inv.Status)
	s.step("paid %s: paid %s, balance %s, status %s/%s",
		p.Amount.StringFixed(2), after.PaidAmount.StringFixed(2), after.BalanceAmount.StringFixed(2),
		after.Status, after.PaymentStatus)
	s.track(after)
	return after, nil
}

func item(desc, qty, price string) ledger.ItemInput {
	return ledger.ItemInput{
		Type:        "service",
		Description: desc,
		Quantity:    money.MustParse(qty),
		UnitPrice:   money.MustParse(price),
	}
}

func strPtr(s string) *string {
	return &s
}
