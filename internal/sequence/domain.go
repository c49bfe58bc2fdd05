// Package sequence allocates human readable document numbers of the form
// PREFIX-YEAR-NNN, one counter per series and calendar year.
package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Series is an independent numbering stream identified by its prefix.
type Series string

const (
	// Bill numbers sales invoices.
	Bill Series = "INV"
	// Purchase numbers vendor purchases.
	Purchase Series = "PUR"
)

// IsValid reports whether s is a known series.
func (s Series) IsValid() bool {
	return s == Bill || s == Purchase
}

var (
	// ErrUnknownSeries rejects series other than Bill and Purchase.
	ErrUnknownSeries = httpx.NewError(httpx.ErrValidation, "sequence: unknown series")
	// ErrMalformedNumber is returned by Parse for strings outside PREFIX-YEAR-NNN.
	ErrMalformedNumber = httpx.NewError(httpx.ErrValidation, "sequence: malformed document number")
)

// Format renders a document number. The counter is padded to three digits and
// widens past 999.
func Format(series Series, year, n int) string {
	return fmt.Sprintf("%s-%04d-%03d", series, year, n)
}

// Parse splits a document number into its parts.
func Parse(number string) (Series, int, int, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	series := Series(parts[0])
	if !series.IsValid() {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 || len(parts[2]) < 3 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrMalformedNumber, number)
	}
	return series, year, n, nil
}
