/*
errors.go - Ledger error to HTTP response mapping

PURPOSE:
  Every handler funnels ledger errors through writeLedgerError so the
  status code depends only on the error kind, never on the handler.

STATUS MAPPING:
  not_found                      404
  validation_error               400
  invalid_state                  409
  duplicate_invoice_number       409
  client_mismatch                422
  amount_exceeds_balance         422
  refund_exceeds_payment_amount  422
  already_refunded               422
  storage_unavailable            503 (Retry-After: 1)
  anything else                  500

BODY:
  {"error": "<hint>", "kind": "<kind>", "details": {...}}
  The hint is the caller-facing message attached by the ledger. Details are
  the reportable details of the error chain, e.g. amount and balance for
  amount_exceeds_balance.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logger"
)

var kindStatus = map[ledger.Kind]int{
	ledger.KindNotFound:                   http.StatusNotFound,
	ledger.KindValidation:                 http.StatusBadRequest,
	ledger.KindInvalidState:               http.StatusConflict,
	ledger.KindDuplicateInvoiceNumber:     http.StatusConflict,
	ledger.KindClientMismatch:             http.StatusUnprocessableEntity,
	ledger.KindAmountExceedsBalance:       http.StatusUnprocessableEntity,
	ledger.KindRefundExceedsPaymentAmount: http.StatusUnprocessableEntity,
	ledger.KindAlreadyRefunded:            http.StatusUnprocessableEntity,
	ledger.KindStorageUnavailable:         http.StatusServiceUnavailable,
}

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	if status, ok := kindStatus[ledger.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeLedgerError writes err as an ErrorResponse. Server-side failures are
// logged with the full chain; caller errors only at debug.
func writeLedgerError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := statusFor(err)
	kind := ledger.KindOf(err)

	if status >= http.StatusInternalServerError {
		log.Errorw("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	} else {
		log.Debugw("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err)
	}

	if kind == ledger.KindStorageUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   displayMessage(err, status),
		Kind:    string(kind),
		Details: errorDetails(err),
	})
}

// writeError writes a transport-level failure that never reached the ledger.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusBadRequest {
		resp.Kind = string(ledger.KindValidation)
	}
	if err != nil {
		resp.Details = map[string]any{"cause": err.Error()}
	}
	writeJSON(w, status, resp)
}

func displayMessage(err error, status int) string {
	for _, hint := range errors.GetAllHints(err) {
		if hint = strings.TrimSpace(hint); hint != "" {
			return hint
		}
	}
	if status >= http.StatusInternalServerError {
		return "An unexpected error occurred"
	}
	return err.Error()
}

// errorDetails collects the reportable details of the error chain.
func errorDetails(err error) map[string]any {
	details := make(map[string]any)

	for _, sdp := range errors.GetAllSafeDetails(err) {
		for _, payload := range sdp.SafeDetails {
			raw, ok := strings.CutPrefix(payload, "__json__:")
			if !ok {
				continue
			}
			var m map[string]any
			if json.Unmarshal([]byte(raw), &m) == nil {
				for k, v := range m {
					details[k] = v
				}
			}
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
