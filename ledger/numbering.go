/*
numbering.go - Invoice number allocation

PURPOSE:
  Produces a unique, company-scoped, sequential invoice number such as
  INV-000042 from a configurable prefix and zero padding.

ALGORITHM (inside the creating transaction):
  1. Read the company's most recent invoice number and its high-water mark
  2. Parse the trailing digits of the latest number (0 when none)
  3. candidate = max(parsed, highWater) + 1
  4. Format prefix + zero-pad(candidate)
  5. While the number exists, bump
  6. Persist the new high-water mark

  The high-water mark keeps numbers from being reused after the newest draft
  is deleted. If the insert still collides with a concurrent creator the whole
  transaction is retried, see Ledger.withNumberRetry.
*/
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Allocator hands out invoice numbers.
type Allocator struct {
	Prefix      string
	Padding     int
	MaxAttempts int
}

// DefaultAllocator is INV-000001 style with five attempts.
func DefaultAllocator() Allocator {
	return Allocator{Prefix: "INV-", Padding: 6, MaxAttempts: 5}
}

// Next allocates the next number for the company and records it.
func (a Allocator) Next(ctx context.Context, tx SequenceTx, companyID CompanyID) (string, error) {
	latest, err := tx.LatestInvoiceNumber(ctx, companyID)
	if err != nil {
		return "", err
	}
	highWater, err := tx.HighWaterMark(ctx, companyID)
	if err != nil {
		return "", err
	}

	seq := trailingNumber(latest)
	if highWater > seq {
		seq = highWater
	}

	for {
		seq++
		candidate := a.Format(seq)
		exists, err := tx.InvoiceNumberExists(ctx, companyID, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			if err := tx.SetHighWaterMark(ctx, companyID, seq); err != nil {
				return "", err
			}
			return candidate, nil
		}
	}
}

// Format renders a sequence value.
func (a Allocator) Format(seq int64) string {
	return fmt.Sprintf("%s%0*d", a.Prefix, a.Padding, seq)
}

// trailingNumber parses the digits at the end of s. "INV-000042" -> 42.
func trailingNumber(s string) int64 {
	end := len(s)
	start := strings.LastIndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) + 1
	if start >= end {
		return 0
	}
	n, err := strconv.ParseInt(s[start:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
