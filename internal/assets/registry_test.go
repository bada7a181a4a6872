package assets

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassOf(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		asset string
		want  Class
	}{
		{"EUR", Quote},
		{"usd", Quote},
		{"GBP", Quote},
		{"KCN", Base},
		{"BTC", Base},
	}
	for _, c := range cases {
		if got := r.ClassOf(c.asset); got != c.want {
			t.Errorf("ClassOf(%s) = %v, want %v", c.asset, got, c.want)
		}
	}
}

func TestValidateSymbol(t *testing.T) {
	if err := ValidateSymbol(""); err == nil {
		t.Error("expected error for empty asset")
	}
	if err := ValidateSymbol("TOOLONGASSET"); err == nil {
		t.Error("expected error for over-length asset")
	}
	if err := ValidateSymbol("KC-N"); err == nil {
		t.Error("expected error for non-alphanumeric asset")
	}
	if err := ValidateSymbol("KCN"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseSymbol(t *testing.T) {
	p, err := ParseSymbol("KCN/EUR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Base != "KCN" || p.Quote != "EUR" {
		t.Errorf("got %+v", p)
	}

	if _, err := ParseSymbol("KCNEUR"); err == nil {
		t.Error("expected error for missing separator")
	}
	if _, err := ParseSymbol("KCN/EUR/GBP"); err == nil {
		t.Error("expected error for extra separator")
	}
}

func TestValidatePrecision(t *testing.T) {
	r := NewRegistry()

	if err := r.ValidatePrecision("EUR", decimal.NewFromFloat(1.005)); err == nil {
		t.Error("expected PrecisionExceeded for 3dp quote amount")
	}
	if err := r.ValidatePrecision("EUR", decimal.NewFromFloat(1.00)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := r.ValidatePrecision("KCN", decimal.RequireFromString("0.123456789")); err == nil {
		t.Error("expected PrecisionExceeded for 9dp base amount")
	}
}

func TestRound(t *testing.T) {
	r := NewRegistry()
	got := r.Round("EUR", decimal.RequireFromString("1.005"))
	if !got.Equal(decimal.RequireFromString("1.01")) {
		t.Errorf("Round(EUR, 1.005) = %s, want 1.01", got)
	}
}
