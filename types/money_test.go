package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"CHF", CHF(1000), 1000, "chf", "CHF 10.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"New upper case", New(250, "CHF"), 250, "chf", "CHF 2.50"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return CHF(100).Add(CHF(200)) }, CHF(300)},
		{"Subtract", func() Money { return CHF(500).Subtract(CHF(200)) }, CHF(300)},
		{"Multiply", func() Money { return CHF(100).Multiply(3) }, CHF(300)},
		{"Negate", func() Money { return CHF(100).Negate() }, CHF(-100)},
		{"Abs negative", func() Money { return CHF(-100).Abs() }, CHF(100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyMulRate(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		rate     string
		expected int64
	}{
		{"half of 500", 500, "0.5", 250},
		{"half of 490", 490, "0.5", 245},
		{"half up", 495, "0.5", 248},
		{"half up negative", -495, "0.5", -248},
		{"vat 7.7 percent", 1000, "0.077", 77},
		{"full", 1234, "1", 1234},
		{"free", 1234, "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CHF(tt.amount).MulRate(decimal.RequireFromString(tt.rate))
			if got.Amount != tt.expected {
				t.Errorf("MulRate: got %d, want %d", got.Amount, tt.expected)
			}
		})
	}
}

func TestMoneyPercent(t *testing.T) {
	got := CHF(1000).Percent(decimal.RequireFromString("7.7"))
	if got.Amount != 77 {
		t.Errorf("Percent: got %d, want 77", got.Amount)
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = CHF(100).Add(EUR(100))
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{CHF(4900), "49.00"},
		{CHF(1), "0.01"},
		{CHF(0), "0.00"},
		{CHF(-4900), "-49.00"},
		{EUR(9999), "99.99"},
		{New(100, "jpy"), "100"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestFromMajor(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"10.00", 1000},
		{"12.34", 1234},
		{"0.005", 1},
		{"-1.01", -101},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := FromMajor(tt.input, "CHF")
			if err != nil {
				t.Fatalf("FromMajor failed: %v", err)
			}
			if got.Amount != tt.expected || got.Currency != "chf" {
				t.Errorf("FromMajor: got %+v, want %d chf", got, tt.expected)
			}
		})
	}

	if _, err := FromMajor("ten", "chf"); err == nil {
		t.Error("expected error for malformed amount")
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(EUR(4900))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":4900,"currency":"eur","display":"€49.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", nil, Zero("chf")},
		{"Multiple", []Money{CHF(100), CHF(200), CHF(300)}, CHF(600)},
		{"With negatives", []Money{CHF(100), CHF(-50), CHF(200)}, CHF(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Sum("chf", tt.values...)
			if !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func BenchmarkMoneyMulRate(b *testing.B) {
	m := CHF(4900)
	rate := decimal.RequireFromString("0.85")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.MulRate(rate)
	}
}
