package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/scenarios", nil)

	requireStatus(t, rec, http.StatusOK)
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))
	for _, s := range list {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}

func TestLoadScenario_All(t *testing.T) {
	tests := []struct {
		id     string
		status ledger.InvoiceStatus
		check  func(t *testing.T, inv *ledger.Invoice)
	}{
		{"totals", ledger.InvoiceSent, func(t *testing.T, inv *ledger.Invoice) {
			assert.True(t, d("148.50").Equal(inv.Total), inv.Total.String())
		}},
		{"partial-payment", ledger.InvoicePaid, func(t *testing.T, inv *ledger.Invoice) {
			assert.True(t, d("150").Equal(inv.PaidAmount))
			assert.True(t, inv.BalanceAmount.IsZero())
		}},
		{"overpayment", ledger.InvoicePartial, func(t *testing.T, inv *ledger.Invoice) {
			assert.True(t, d("75").Equal(inv.BalanceAmount))
		}},
		{"full-refund", ledger.InvoiceSent, func(t *testing.T, inv *ledger.Invoice) {
			assert.Equal(t, ledger.PaymentStatusPending, inv.PaymentStatus)
			assert.True(t, d("150").Equal(inv.BalanceAmount))
		}},
		{"overdue", ledger.InvoiceOverdue, nil},
		{"pending-payment", ledger.InvoicePaid, nil},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.request(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": tt.id})

			requireStatus(t, rec, http.StatusCreated)
			res := decodeBody[ScenarioResult](t, rec)
			assert.Equal(t, tt.id, res.ScenarioID)
			assert.Equal(t, ledger.CompanyID(testCompany), res.CompanyID)
			assert.NotEmpty(t, res.Steps)
			require.Len(t, res.Invoices, 1)
			assert.Equal(t, tt.status, res.Invoices[0].Status)
			if tt.check != nil {
				tt.check(t, res.Invoices[0])
			}
			assert.NotEmpty(t, env.pub.Names())
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})

	requireStatus(t, rec, http.StatusNotFound)
}

func TestLoadScenario_MissingID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/scenarios/load", map[string]any{})

	requireStatus(t, rec, http.StatusBadRequest)
}
