// Package webhook exposes gateway callbacks over HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xraph/billing"
	"github.com/xraph/billing/provider"
)

// MaxBodySize bounds a webhook request body.
const MaxBodySize = 1 << 20

// Reconciler applies verified gateway callbacks. *billing.Engine
// satisfies it.
type Reconciler interface {
	HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) (*billing.ReconcileResult, error)
}

// Handler serves POST /webhooks/{provider}.
type Handler struct {
	engine Reconciler
	logger *slog.Logger
}

// New creates a Handler. A nil logger uses slog.Default.
func New(engine Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes registers the webhook route on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/{provider}", h.Handle).Methods(http.MethodPost)
}

// Handle handles POST /webhooks/{provider}.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	res, err := h.engine.HandleWebhook(r.Context(), name, r.Header, body)
	if err != nil {
		status := StatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "webhook failed", "provider", name, "error", err)
		}
		var rl *provider.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res) //nolint:errcheck // client went away
}

// StatusCode maps a reconciliation error to the HTTP status returned to
// the gateway. Gateways retry on anything but 2xx, so only errors that a
// retry could fix map to 5xx or 429.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, provider.ErrInvalidSignature),
		errors.Is(err, provider.ErrMalformedPayload),
		billing.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, provider.ErrNotSupported),
		errors.Is(err, billing.ErrProviderMismatch),
		billing.IsNotFound(err):
		return http.StatusNotFound
	case provider.IsRateLimited(err):
		return http.StatusTooManyRequests
	case provider.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck // client went away
}
