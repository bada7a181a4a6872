// Package assets classifies currencies as quote or base assets and
// enforces the per-asset decimal precision the ledger must round to.
package assets

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Class is the precision bucket an asset belongs to.
type Class int8

const (
	// Base assets carry 8 fractional digits (e.g. KCN, BTC).
	Base Class = iota
	// Quote assets carry 2 fractional digits (e.g. EUR, USD, GBP).
	Quote
)

func (c Class) String() string {
	if c == Quote {
		return "quote"
	}
	return "base"
}

// Precision is the number of fractional digits allowed for the class.
func (c Class) Precision() int32 {
	if c == Quote {
		return 2
	}
	return 8
}

// Registry tracks which assets are quote assets. Anything not listed
// is treated as a base asset, matching the spec's "everything else"
// default.
type Registry struct {
	quote map[string]bool
}

// NewRegistry returns a registry seeded with the standard quote assets.
func NewRegistry() *Registry {
	r := &Registry{quote: make(map[string]bool)}
	for _, a := range []string{"EUR", "USD", "GBP"} {
		r.quote[a] = true
	}
	return r
}

// RegisterQuote marks an additional asset as a quote asset.
func (r *Registry) RegisterQuote(asset string) {
	r.quote[strings.ToUpper(asset)] = true
}

// ClassOf returns the precision class for an asset symbol.
func (r *Registry) ClassOf(asset string) Class {
	if r.quote[strings.ToUpper(asset)] {
		return Quote
	}
	return Base
}

// Precision returns the number of fractional digits for an asset.
func (r *Registry) Precision(asset string) int32 {
	return r.ClassOf(asset).Precision()
}

// Round rounds amount to the asset's precision using banker-agnostic
// half-up rounding (decimal.Round), matching §3's "rounded to its
// asset's precision before use" requirement.
func (r *Registry) Round(asset string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(r.Precision(asset))
}

// ValidateSymbol checks the 1-10 byte ASCII alphanumeric charset rule
// from §4.6's append() contract.
func ValidateSymbol(asset string) error {
	if len(asset) < 1 || len(asset) > 10 {
		return fmt.Errorf("asset %q: length must be 1-10 bytes", asset)
	}
	for _, r := range asset {
		isAlnum := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return fmt.Errorf("asset %q: must be ASCII alphanumeric", asset)
		}
	}
	return nil
}

// ValidatePrecision fails with an error the caller can classify as
// PrecisionExceeded when amount carries more fractional digits than
// the asset's class allows.
func (r *Registry) ValidatePrecision(asset string, amount decimal.Decimal) error {
	allowed := r.Precision(asset)
	if int32(amount.Exponent()) < -allowed {
		return fmt.Errorf("amount %s exceeds %d-digit precision for asset %s", amount.String(), allowed, asset)
	}
	return nil
}

// Pair is a parsed BASE/QUOTE trading symbol (e.g. "KCN/EUR").
type Pair struct {
	Base  string
	Quote string
}

// ParseSymbol splits a "BASE/QUOTE" trading symbol, failing otherwise
// per §4.7 step 2 ("Parse symbol as BASE/QUOTE; reject otherwise").
func ParseSymbol(symbol string) (Pair, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid symbol %q: expected BASE/QUOTE", symbol)
	}
	if err := ValidateSymbol(parts[0]); err != nil {
		return Pair{}, fmt.Errorf("invalid base asset in symbol %q: %w", symbol, err)
	}
	if err := ValidateSymbol(parts[1]); err != nil {
		return Pair{}, fmt.Errorf("invalid quote asset in symbol %q: %w", symbol, err)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}
