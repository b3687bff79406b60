// Package occ parses OCC/OPRA option symbols.
//
// Format: TICKER[YYMMDD][C/P][STRIKE*1000 padded to 8 digits], e.g.
// SPY240315C00610000 -> SPY 2024-03-15 call at 610.00.
package occ

import (
	"fmt"
	"strconv"
	"time"
)

// OptionType is the contract type encoded in the symbol.
type OptionType string

const (
	// Call contract.
	Call OptionType = "C"
	// Put contract.
	Put OptionType = "P"
)

// Contract is a fully decoded option symbol.
type Contract struct {
	Underlying string
	Expiration time.Time
	Type       OptionType
	Strike     float64
}

// Parse decodes an OCC symbol into its contract components.
func Parse(symbol string) (*Contract, error) {
	if len(symbol) < 15 {
		return nil, fmt.Errorf("option symbol too short: %s", symbol)
	}

	// Scan for the 6-digit YYMMDD run that separates ticker from the rest.
	datePos := -1
	for i := 1; i <= len(symbol)-6; i++ {
		if !isAllDigits(symbol[i : i+6]) {
			continue
		}
		// Require C/P right after the date to avoid matching digits inside
		// the ticker or strike.
		if i+6 < len(symbol) && (symbol[i+6] == 'C' || symbol[i+6] == 'P') {
			datePos = i
			break
		}
	}
	if datePos == -1 {
		return nil, fmt.Errorf("no YYMMDD expiration found in symbol: %s", symbol)
	}

	dateStr := symbol[datePos : datePos+6]
	expiration, err := time.Parse("060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration %q in symbol %s: %w", dateStr, symbol, err)
	}

	typePos := datePos + 6
	optionType := OptionType(symbol[typePos])

	strikeStart := typePos + 1
	strikeEnd := strikeStart + 8
	if strikeEnd > len(symbol) {
		return nil, fmt.Errorf("symbol too short for 8-digit strike: %s", symbol)
	}
	strikeStr := symbol[strikeStart:strikeEnd]
	if !isAllDigits(strikeStr) {
		return nil, fmt.Errorf("invalid strike %q in symbol: %s", strikeStr, symbol)
	}
	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse strike %q in symbol %s: %w", strikeStr, symbol, err)
	}

	return &Contract{
		Underlying: symbol[:datePos],
		Expiration: expiration,
		Type:       optionType,
		Strike:     float64(strikeInt) / 1000.0,
	}, nil
}

// Underlying extracts the ticker from an option symbol. Plain equity symbols
// (no embedded date) are returned unchanged.
func Underlying(symbol string) string {
	if c, err := Parse(symbol); err == nil {
		return c.Underlying
	}
	return symbol
}

// ExpirationDate returns the symbol's expiration as "2006-01-02", or "" when
// the symbol is not a valid option symbol.
func ExpirationDate(symbol string) string {
	c, err := Parse(symbol)
	if err != nil {
		return ""
	}
	return c.Expiration.Format("2006-01-02")
}

// IsOption reports whether the symbol decodes as an option contract.
func IsOption(symbol string) bool {
	_, err := Parse(symbol)
	return err == nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
