package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/events"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/money"
)

const (
	testCompany = "co_acme"
	testClient  = "cl_alice"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, len(p.events))
	for i, e := range p.events {
		out[i] = e.Name
	}
	return out
}

type testEnv struct {
	t       *testing.T
	ledger  *ledger.Ledger
	clock   *testClock
	pub     *recordingPublisher
	sweeper *OverdueSweeper
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemory())
}

func newTestEnvWithStore(t *testing.T, s ledger.Store) *testEnv {
	t.Helper()
	clock := &testClock{now: baseTime}
	log := logger.NewNop()
	l := ledger.New(s, log, ledger.WithClock(clock.Now))
	pub := &recordingPublisher{}
	sweeper := NewOverdueSweeper(l, pub, log, SweeperConfig{Workers: 2, Clock: clock.Now})
	h := NewHandler(l, pub, log, WithSweeper(sweeper), WithEventClock(clock.Now))
	return &testEnv{
		t:       t,
		ledger:  l,
		clock:   clock,
		pub:     pub,
		sweeper: sweeper,
		router:  NewRouter(h, RouterConfig{IdempotencyTTL: time.Hour}, log),
	}
}

// request sends body (marshalled unless it is a string) as testCompany.
func (e *testEnv) request(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCompanyID, testCompany)
	req.Header.Set(HeaderUserID, "usr_admin")
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] == "" {
			req.Header.Del(headers[i])
			continue
		}
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

func d(s string) decimal.Decimal { return money.MustParse(s) }

func invoiceBody(prices ...string) map[string]any {
	items := make([]map[string]any, len(prices))
	for i, p := range prices {
		items[i] = map[string]any{"description": "Service", "quantity": "1", "unit_price": p}
	}
	return map[string]any{
		"branch_id": "br_main",
		"client_id": testClient,
		"items":     items,
	}
}

// sentInvoice creates and sends an invoice through the API.
func (e *testEnv) sentInvoice(prices ...string) *ledger.Invoice {
	e.t.Helper()
	rec := e.request(http.MethodPost, "/api/invoices", invoiceBody(prices...))
	requireStatus(e.t, rec, http.StatusCreated)
	inv := decodeBody[ledger.Invoice](e.t, rec)

	rec = e.request(http.MethodPost, "/api/invoices/"+string(inv.ID)+"/send", nil)
	requireStatus(e.t, rec, http.StatusOK)
	sent := decodeBody[ledger.Invoice](e.t, rec)
	return &sent
}

func paymentBody(amount string) map[string]any {
	return map[string]any{
		"client_id":      testClient,
		"amount":         amount,
		"payment_method": "card",
	}
}

func (e *testEnv) pay(inv *ledger.Invoice, amount string) PaymentResponse {
	e.t.Helper()
	rec := e.request(http.MethodPost, "/api/invoices/"+string(inv.ID)+"/payments", paymentBody(amount))
	requireStatus(e.t, rec, http.StatusCreated)
	return decodeBody[PaymentResponse](e.t, rec)
}
