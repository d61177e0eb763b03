package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/billing/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"WalletID", id.NewWalletID, "wal_"},
		{"SkuID", id.NewSkuID, "sku_"},
		{"EntitlementID", id.NewEntitlementID, "ent_"},
		{"TransactionID", id.NewTransactionID, "txn_"},
		{"PlanID", id.NewPlanID, "plan_"},
		{"DiscountID", id.NewDiscountID, "dsc_"},
		{"VatRateID", id.NewVatRateID, "vat_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"WalletID", id.NewWalletID, id.ParseWalletID},
		{"SkuID", id.NewSkuID, id.ParseSkuID},
		{"EntitlementID", id.NewEntitlementID, id.ParseEntitlementID},
		{"TransactionID", id.NewTransactionID, id.ParseTransactionID},
		{"PlanID", id.NewPlanID, id.ParsePlanID},
		{"DiscountID", id.NewDiscountID, id.ParseDiscountID},
		{"VatRateID", id.NewVatRateID, id.ParseVatRateID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseWalletID rejects sku_", id.NewSkuID().String(), id.ParseWalletID},
		{"ParseSkuID rejects ent_", id.NewEntitlementID().String(), id.ParseSkuID},
		{"ParseEntitlementID rejects txn_", id.NewTransactionID().String(), id.ParseEntitlementID},
		{"ParseTransactionID rejects wal_", id.NewWalletID().String(), id.ParseTransactionID},
		{"ParseDiscountID rejects vat_", id.NewVatRateID().String(), id.ParseDiscountID},
		{"ParseVatRateID rejects plan_", id.NewPlanID().String(), id.ParseVatRateID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixDiscount)
	if err != nil {
		t.Fatalf("ParseOptional(empty) failed: %v", err)
	}
	if !got.IsNil() {
		t.Errorf("expected nil ID, got %q", got.String())
	}

	d := id.NewDiscountID()
	got, err = id.ParseOptional(d.String(), id.PrefixDiscount)
	if err != nil {
		t.Fatalf("ParseOptional failed: %v", err)
	}
	if got.String() != d.String() {
		t.Errorf("mismatch: %q != %q", got.String(), d.String())
	}

	if _, err := id.ParseOptional(d.String(), id.PrefixWallet); err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewWalletID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewTransactionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewTransactionID()
	b := id.NewTransactionID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewTransactionID() calls returned the same ID: %q", a.String())
	}
}
