package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/wallet"
)

const testSecret = "whsec_test"

func newTestProvider(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{SecretKey: "sk_test_123", WebhookSecret: testSecret}, WithBackendURL(srv.URL))
}

func sign(payload []byte, secret string) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return http.Header{SignatureHeader: {fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))}}
}

func event(kind, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, kind, object))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestParseEventPaymentIntent(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   string
		object string
		id     string
		status payment.Status
	}{
		{"succeeded", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`, "pi_1", payment.StatusPaid},
		{"failed", "payment_intent.payment_failed", `{"id":"pi_2","object":"payment_intent","status":"requires_payment_method"}`, "pi_2", payment.StatusFailed},
		{"canceled", "payment_intent.canceled", `{"id":"pi_3","object":"payment_intent","status":"canceled"}`, "pi_3", payment.StatusCanceled},
		{"checkout intent", "payment_intent.succeeded", `{"id":"pi_4","object":"payment_intent","status":"succeeded","metadata":{"billing_checkout":"1"}}`, "", ""},
		{"unrelated", "customer.created", `{"id":"cus_1","object":"customer"}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := event(tt.kind, tt.object)
			ev, err := p.ParseEvent(ctx, sign(body, testSecret), body)
			require.NoError(t, err)
			assert.Equal(t, tt.id, ev.PaymentID)
			assert.Equal(t, tt.status, ev.Status)
		})
	}
}

func TestParseEventInvalidSignature(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	body := event("payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`)

	_, err := p.ParseEvent(context.Background(), sign(body, "whsec_other"), body)
	assert.ErrorIs(t, err, provider.ErrInvalidSignature)

	_, err = p.ParseEvent(context.Background(), http.Header{}, body)
	assert.ErrorIs(t, err, provider.ErrInvalidSignature)
}

func TestParseEventSetupIntent(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	body := event("setup_intent.succeeded", `{"id":"seti_1","object":"setup_intent","status":"succeeded","customer":"cus_1","payment_method":"pm_1"}`)

	ev, err := p.ParseEvent(context.Background(), sign(body, testSecret), body)
	require.NoError(t, err)
	assert.Equal(t, "seti_1", ev.PaymentID)
	assert.Equal(t, payment.StatusPaid, ev.Status)
	assert.Equal(t, "seti_1", ev.MandateID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, payment.TypeMandate, ev.Sequence)
}

func TestParseEventRefund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("payment_intent") == "pi_checkout" {
			writeJSON(w, http.StatusOK, `{"object":"list","url":"/v1/checkout/sessions","has_more":false,"data":[{"id":"cs_1","object":"checkout.session"}]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"object":"list","url":"/v1/checkout/sessions","has_more":false,"data":[]}`)
	})
	p := newTestProvider(t, mux)
	ctx := context.Background()

	body := event("refund.updated", `{"id":"re_1","object":"refund","amount":101,"currency":"eur","status":"succeeded","payment_intent":"pi_rec"}`)
	ev, err := p.ParseEvent(ctx, sign(body, testSecret), body)
	require.NoError(t, err)
	assert.Equal(t, "pi_rec", ev.PaymentID)
	assert.Empty(t, ev.Status)
	assert.Equal(t, []provider.Reversal{{ID: "re_1", Type: payment.TypeRefund, Amount: 101, Currency: "eur", Settled: true}}, ev.Reversals)

	body = event("charge.dispute.funds_withdrawn", `{"id":"dp_1","object":"dispute","amount":500,"currency":"chf","payment_intent":"pi_checkout"}`)
	ev, err = p.ParseEvent(ctx, sign(body, testSecret), body)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", ev.PaymentID)
	assert.Equal(t, []provider.Reversal{{ID: "dp_1", Type: payment.TypeChargeback, Amount: 500, Currency: "chf", Settled: true}}, ev.Reversals)
}

func TestCharge(t *testing.T) {
	setupStatus := "canceled"

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/setup_intents/seti_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"seti_1","object":"setup_intent","status":"`+setupStatus+`","customer":"cus_1",
			"payment_method":{"id":"pm_1","object":"payment_method","type":"card","card":{"brand":"visa","last4":"4242"}}}`)
	})
	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "pm_1", r.PostForm.Get("payment_method"))
		assert.Equal(t, "true", r.PostForm.Get("off_session"))
		assert.Equal(t, "true", r.PostForm.Get("confirm"))
		writeJSON(w, http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":2500,"currency":"eur"}`)
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()
	req := provider.PaymentRequest{
		WalletID:  id.NewWalletID(),
		MandateID: "seti_1",
		Type:      payment.TypeRecurring,
		Amount:    2500,
		Currency:  "EUR",
	}

	res, err := p.Charge(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, res)

	m, err := p.GetMandate(ctx, wallet.Mandate{ID: "seti_1"})
	require.NoError(t, err)
	assert.Nil(t, m)

	setupStatus = "succeeded"
	res, err = p.Charge(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "pi_1", res.ID)
	assert.Equal(t, payment.StatusPaid, res.Status)

	m, err = p.GetMandate(ctx, wallet.Mandate{ID: "seti_1"})
	require.NoError(t, err)
	assert.Equal(t, &provider.Mandate{ID: "seti_1", Method: "Visa (**** 4242)", MethodID: "card", Valid: true}, m)
}

func TestFetchPaymentRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/payment_intents/pi_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{"error":{"type":"invalid_request_error","message":"Too many requests"}}`)
	})
	mux.HandleFunc("GET /v1/payment_intents/pi_2", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`)
	})

	p := newTestProvider(t, mux)

	_, err := p.FetchPayment(context.Background(), "pi_1")
	assert.True(t, provider.IsRateLimited(err))

	_, err = p.FetchPayment(context.Background(), "pi_2")
	assert.False(t, provider.IsRateLimited(err))
	assert.Equal(t, http.StatusNotFound, provider.StatusCode(err))
}
