// Package orderkey computes fractional order keys for sibling ordering.
//
// Order keys are decimal strings. Inserting between two neighbors takes the
// arithmetic mean of their keys, so any position is reachable in O(1)
// without renumbering the rest of the sibling list. Exact decimal halving
// means repeated bisection stays collision-free until the configured
// precision runs out (one extra digit per bisection, so well past depth 32
// at precision 40); a rebalance pass resets a crowded list to the ladder.
package orderkey

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// InitialKey is assigned to the first item of an empty sibling list.
const InitialKey = "1000"

// LadderStep is the spacing used when rebalancing a sibling list.
const LadderStep = 1000

func init() {
	// Division only ever halves here; 40 digits covers bisection depths
	// far beyond the guaranteed minimum of 32.
	if decimal.DivisionPrecision < 40 {
		decimal.DivisionPrecision = 40
	}
}

var one = decimal.NewFromInt(1)
var two = decimal.NewFromInt(2)

// Between returns a key ordered between keyBefore and keyAfter. Either
// neighbor may be nil:
//
//   - both nil: InitialKey
//   - only keyAfter: keyAfter - 1
//   - only keyBefore: keyBefore + 1
//   - both: their arithmetic mean, even when keyBefore >= keyAfter
//     (inversion is the caller's responsibility; the result is still
//     deterministic)
//
// A neighbor that does not parse as a finite decimal is an error.
func Between(keyBefore, keyAfter *string) (string, error) {
	if keyBefore == nil && keyAfter == nil {
		return InitialKey, nil
	}

	if keyBefore == nil {
		after, err := parse(*keyAfter)
		if err != nil {
			return "", err
		}
		return after.Sub(one).String(), nil
	}

	before, err := parse(*keyBefore)
	if err != nil {
		return "", err
	}
	if keyAfter == nil {
		return before.Add(one).String(), nil
	}

	after, err := parse(*keyAfter)
	if err != nil {
		return "", err
	}
	return before.Add(after).Div(two).String(), nil
}

// Compare orders two keys numerically: -1, 0 or +1.
func Compare(a, b string) (int, error) {
	da, err := parse(a)
	if err != nil {
		return 0, err
	}
	db, err := parse(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}

// Ladder returns n evenly spaced keys (1000, 2000, ...) for rebalancing.
func Ladder(n int) []string {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = strconv.Itoa((i + 1) * LadderStep)
	}
	return keys
}

func parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("order key %q is not a finite decimal: %w", s, err)
	}
	return d, nil
}
