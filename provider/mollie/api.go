package mollie

import (
	"fmt"
	"strings"

	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/types"
)

type amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

func (a amount) minor() (int64, error) {
	if a.Value == "" {
		return 0, nil
	}
	m, err := types.FromMajor(a.Value, a.Currency)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	return m.Amount, nil
}

type link struct {
	Href string `json:"href"`
}

type paymentRequest struct {
	Amount       amount            `json:"amount"`
	Description  string            `json:"description"`
	CustomerID   string            `json:"customerId,omitempty"`
	SequenceType string            `json:"sequenceType,omitempty"`
	MandateID    string            `json:"mandateId,omitempty"`
	Method       string            `json:"method,omitempty"`
	RedirectURL  string            `json:"redirectUrl,omitempty"`
	WebhookURL   string            `json:"webhookUrl,omitempty"`
	Locale       string            `json:"locale,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	SequenceType string `json:"sequenceType"`
	MandateID    string `json:"mandateId"`
	CustomerID   string `json:"customerId"`
	Amount       amount `json:"amount"`
	Links        struct {
		Checkout    *link `json:"checkout"`
		Refunds     *link `json:"refunds"`
		Chargebacks *link `json:"chargebacks"`
	} `json:"_links"`
}

type customerRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type customerResponse struct {
	ID string `json:"id"`
}

type mandateResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Method  string `json:"method"`
	Details struct {
		CardLabel       string `json:"cardLabel"`
		CardNumber      string `json:"cardNumber"`
		ConsumerAccount string `json:"consumerAccount"`
		ConsumerName    string `json:"consumerName"`
	} `json:"details"`
}

// describe returns a user friendly label of the payment method.
func (m mandateResponse) describe() string {
	switch m.Method {
	case "creditcard":
		return strings.TrimSpace(fmt.Sprintf("%s (**** %s)", m.Details.CardLabel, m.Details.CardNumber))
	case "directdebit":
		return fmt.Sprintf("Direct Debit (%s)", m.Details.ConsumerAccount)
	case "paypal":
		return fmt.Sprintf("PayPal (%s)", m.Details.ConsumerName)
	case "":
		return "Unknown method"
	default:
		return m.Method
	}
}

type refundRequest struct {
	Amount      amount `json:"amount"`
	Description string `json:"description,omitempty"`
}

type refundResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Amount      amount `json:"amount"`
}

func (r refundResponse) reversal() (provider.Reversal, error) {
	value, err := r.Amount.minor()
	if err != nil {
		return provider.Reversal{}, err
	}
	return provider.Reversal{
		ID:          r.ID,
		Type:        payment.TypeRefund,
		Amount:      abs(value),
		Currency:    strings.ToLower(r.Amount.Currency),
		Description: r.Description,
		Settled:     r.Status == "refunded",
	}, nil
}

type refundList struct {
	Embedded struct {
		Refunds []refundResponse `json:"refunds"`
	} `json:"_embedded"`
}

type chargebackList struct {
	Embedded struct {
		Chargebacks []struct {
			ID     string `json:"id"`
			Amount amount `json:"amount"`
		} `json:"chargebacks"`
	} `json:"_embedded"`
}
