/*
middleware.go - Tenant scoping, request logging and idempotent replay

TENANT:
  Every /api/invoices, /api/payments and /api/scenarios request must carry
  X-Company-ID. The ledger treats a record of another company as absent, so
  the header is the only tenant boundary the API needs. X-User-ID names the
  actor recorded in the audit trail ("api" when missing).

IDEMPOTENCY:
  Mutating requests may send an Idempotency-Key. The first request with a
  key runs normally and its response is cached for the configured TTL, keyed
  by company, method, path and key. A repeat with the same body replays the
  cached response with "Idempotent-Replayed: true" instead of recording a
  second payment. A repeat while the first is still running gets 409, and a
  repeat with a different body gets 422. 5xx responses are not cached so a
  retry after a storage outage runs again; neither is a handler panic, so the
  key is released before Recoverer answers. Bodies over 1 MiB get 413.

SEE ALSO:
  - server.go: middleware order
*/
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/logger"
)

const (
	HeaderCompanyID      = "X-Company-ID"
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	defaultActor       = "api"
	maxIdempotencyKey  = 255
	maxRequestBodySize = 1 << 20
)

type ctxKey int

const (
	companyKey ctxKey = iota
	actorKey
)

// companyFrom returns the tenant set by RequireTenant.
func companyFrom(ctx context.Context) ledger.CompanyID {
	company, _ := ctx.Value(companyKey).(ledger.CompanyID)
	return company
}

// actorFrom returns the acting user set by RequireTenant.
func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return defaultActor
}

// RequireTenant rejects requests without X-Company-ID.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company := strings.TrimSpace(r.Header.Get(HeaderCompanyID))
		if company == "" {
			writeError(w, http.StatusBadRequest, HeaderCompanyID+" header is required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), companyKey, ledger.CompanyID(company))
		if actor := strings.TrimSpace(r.Header.Get(HeaderUserID)); actor != "" {
			ctx = context.WithValue(ctx, actorKey, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request through the service logger.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				log.Infow("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"company_id", r.Header.Get(HeaderCompanyID))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

type idempotentResponse struct {
	done        bool
	bodyHash    string
	status      int
	contentType string
	body        []byte
}

// Idempotency replays responses of repeated mutating requests.
type Idempotency struct {
	cache *cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewIdempotency creates a replay cache. A non-positive ttl means 24h.
func NewIdempotency(ttl time.Duration, log *logger.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Idempotency{
		cache: cache.New(ttl, 10*time.Minute),
		ttl:   ttl,
		log:   log,
	}
}

// Middleware must run after RequireTenant.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if key == "" || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, http.StatusBadRequest, HeaderIdempotencyKey+" is too long", nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			writeBodyError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		hash := hex.EncodeToString(sum[:])

		cacheKey := strings.Join([]string{
			string(companyFrom(r.Context())), r.Method, r.URL.Path, key,
		}, "|")

		// Add is atomic: exactly one request claims the key.
		if err := i.cache.Add(cacheKey, &idempotentResponse{bodyHash: hash}, i.ttl); err != nil {
			if cached, ok := i.cache.Get(cacheKey); ok {
				i.replay(w, cached.(*idempotentResponse), hash)
				return
			}
			// Expired between Add and Get; run it as a fresh request without caching.
			next.ServeHTTP(w, r)
			return
		}

		// The claim is released unless a response gets cached, which also
		// covers a panicking handler.
		stored := false
		defer func() {
			if !stored {
				i.cache.Delete(cacheKey)
			}
		}()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var captured bytes.Buffer
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		stored = true
		i.cache.Set(cacheKey, &idempotentResponse{
			done:        true,
			bodyHash:    hash,
			status:      status,
			contentType: ww.Header().Get("Content-Type"),
			body:        captured.Bytes(),
		}, i.ttl)
	})
}

func (i *Idempotency) replay(w http.ResponseWriter, cached *idempotentResponse, hash string) {
	switch {
	case !cached.done:
		writeError(w, http.StatusConflict, "A request with this Idempotency-Key is still in progress", nil)
	case cached.bodyHash != hash:
		writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body", nil)
	default:
		i.log.Debugw("replaying idempotent response", "status", cached.status)
		if cached.contentType != "" {
			w.Header().Set("Content-Type", cached.contentType)
		}
		w.Header().Set(HeaderReplayed, "true")
		w.WriteHeader(cached.status)
		_, _ = w.Write(cached.body)
	}
}

// writeBodyError answers a failed body read, 413 when the limit was hit.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large", err)
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
