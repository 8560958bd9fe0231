// Package ident generates the short human-readable identifiers used for
// products, orders, deliverable units and tickets (e.g. "ORD-4821").
package ident

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrExhausted is returned when no unused identifier was found within the
// collision retry budget.
var ErrExhausted = errors.New("identifier space exhausted")

// MaxAttempts bounds collision retries for a single allocation.
const MaxAttempts = 100

const (
	PrefixProduct = "PROD"
	PrefixOrder   = "ORD"
	PrefixUnit    = "KEY"
	PrefixTicket  = "TKT"
)

// New returns a fresh identifier of the form PREFIX-NNNN with a random
// four digit suffix. Uniqueness is the caller's concern, see Unique.
func New(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, 1000+rand.IntN(9000))
}

// Unique generates identifiers until taken reports one as free, retrying up
// to MaxAttempts times. taken errors abort the search immediately.
func Unique(prefix string, taken func(id string) (bool, error)) (string, error) {
	for i := 0; i < MaxAttempts; i++ {
		id := New(prefix)
		used, err := taken(id)
		if err != nil {
			return "", err
		}
		if !used {
			return id, nil
		}
	}
	return "", ErrExhausted
}
