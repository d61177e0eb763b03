package mollie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/wallet"
)

func newTestProvider(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test_key", WebhookURL: "https://billing.test/webhooks/mollie"}, provider.WithBaseURL(srv.URL))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/hal+json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestCreateMandate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /customers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test_key", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusCreated, `{"id":"cst_1"}`)
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var body paymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "first", body.SequenceType)
		assert.Equal(t, "cst_1", body.CustomerID)
		assert.Equal(t, amount{Currency: "CHF", Value: "0.00"}, body.Amount)
		assert.Equal(t, "https://billing.test/webhooks/mollie", body.WebhookURL)
		writeJSON(w, http.StatusCreated, `{"id":"tr_first","status":"open","_links":{"checkout":{"href":"https://mollie.test/checkout/1"}}}`)
	})

	p := newTestProvider(t, mux)
	res, err := p.CreateMandate(context.Background(), provider.PaymentRequest{
		WalletID:    id.NewWalletID(),
		Type:        payment.TypeMandate,
		Currency:    "chf",
		Description: "Auto-payment mandate",
		RedirectURL: "https://billing.test/wallet",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_first", res.ID)
	assert.Equal(t, payment.StatusOpen, res.Status)
	assert.Equal(t, "cst_1", res.CustomerID)
	assert.Equal(t, "https://mollie.test/checkout/1", res.CheckoutURL)
}

func TestChargeRequiresValidMandate(t *testing.T) {
	var created int
	mandateStatus := "invalid"

	mux := http.NewServeMux()
	mux.HandleFunc("GET /customers/cst_1/mandates/mdt_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"mdt_1","status":"`+mandateStatus+`","method":"directdebit","details":{"consumerAccount":"NL55INGB0000000000"}}`)
	})
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		created++
		var body paymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recurring", body.SequenceType)
		assert.Equal(t, "mdt_1", body.MandateID)
		assert.Equal(t, "25.00", body.Amount.Value)
		writeJSON(w, http.StatusCreated, `{"id":"tr_rec","status":"paid"}`)
	})

	p := newTestProvider(t, mux)
	req := provider.PaymentRequest{
		WalletID:   id.NewWalletID(),
		CustomerID: "cst_1",
		MandateID:  "mdt_1",
		Type:       payment.TypeRecurring,
		Amount:     2500,
		Currency:   "eur",
	}

	res, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, created)

	mandateStatus = "valid"
	res, err = p.Charge(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, payment.StatusPaid, res.Status)
	assert.Equal(t, 1, created)

	res, err = p.Charge(context.Background(), provider.PaymentRequest{Amount: 2500, Currency: "eur"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGetMandate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /customers/cst_1/mandates/mdt_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"mdt_1","status":"pending","method":"creditcard","details":{"cardLabel":"Visa","cardNumber":"6787"}}`)
	})
	mux.HandleFunc("GET /customers/cst_1/mandates/mdt_gone", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusGone, `{"status":410,"detail":"The mandate is no longer available"}`)
	})
	mux.HandleFunc("DELETE /customers/cst_1/mandates/mdt_gone", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusGone, `{"status":410}`)
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()

	m, err := p.GetMandate(ctx, wallet.Mandate{CustomerID: "cst_1", ID: "mdt_1"})
	require.NoError(t, err)
	assert.Equal(t, &provider.Mandate{ID: "mdt_1", Method: "Visa (**** 6787)", MethodID: "creditcard", Pending: true}, m)

	m, err = p.GetMandate(ctx, wallet.Mandate{CustomerID: "cst_1", ID: "mdt_gone"})
	require.NoError(t, err)
	assert.Nil(t, m)

	assert.NoError(t, p.DeleteMandate(ctx, wallet.Mandate{CustomerID: "cst_1", ID: "mdt_gone"}))
}

func TestParseEventPaidWithReversals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/tr_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{
			"id":"tr_1","status":"paid","sequenceType":"first","mandateId":"mdt_9","customerId":"cst_1",
			"amount":{"currency":"EUR","value":"12.34"},
			"_links":{"refunds":{"href":"x"},"chargebacks":{"href":"y"}}
		}`)
	})
	mux.HandleFunc("GET /payments/tr_1/refunds", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"_embedded":{"refunds":[
			{"id":"re_1","status":"refunded","description":"goodwill","amount":{"currency":"EUR","value":"1.01"}},
			{"id":"re_2","status":"pending","amount":{"currency":"EUR","value":"2.00"}}
		]}}`)
	})
	mux.HandleFunc("GET /payments/tr_1/chargebacks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"_embedded":{"chargebacks":[
			{"id":"chb_1","amount":{"currency":"EUR","value":"-3.00"}},
			{"id":"chb_2","amount":{"currency":"EUR","value":""}}
		]}}`)
	})

	p := newTestProvider(t, mux)
	ev, err := p.ParseEvent(context.Background(), nil, []byte("id=tr_1"))
	require.NoError(t, err)

	assert.Equal(t, Name, ev.Provider)
	assert.Equal(t, "tr_1", ev.PaymentID)
	assert.Equal(t, payment.StatusPaid, ev.Status)
	assert.Equal(t, "mdt_9", ev.MandateID)
	assert.Equal(t, []provider.Reversal{
		{ID: "re_1", Type: payment.TypeRefund, Amount: 101, Currency: "eur", Description: "goodwill", Settled: true},
		{ID: "chb_1", Type: payment.TypeChargeback, Amount: 300, Currency: "eur", Settled: true},
	}, ev.Reversals)
}

func TestParseEventWithoutID(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux())
	ev, err := p.ParseEvent(context.Background(), nil, []byte(""))
	require.NoError(t, err)
	assert.True(t, ev.Empty())
}

func TestFetchPaymentRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/tr_1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	p := newTestProvider(t, mux)
	_, err := p.FetchPayment(context.Background(), "tr_1")
	assert.True(t, provider.IsRateLimited(err))
}

func TestRefund(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/tr_1/refunds", func(w http.ResponseWriter, r *http.Request) {
		var body refundRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, amount{Currency: "EUR", Value: "1.01"}, body.Amount)
		writeJSON(w, http.StatusCreated, `{"id":"re_1","status":"queued","amount":{"currency":"EUR","value":"1.01"}}`)
	})

	p := newTestProvider(t, mux)
	rev, err := p.Refund(context.Background(), provider.RefundRequest{PaymentID: "tr_1", Amount: 101, Currency: "eur"})
	require.NoError(t, err)
	assert.Equal(t, "re_1", rev.ID)
	assert.Equal(t, int64(101), rev.Amount)
	assert.False(t, rev.Settled)
}
