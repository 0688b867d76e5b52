package domain

import "errors"

// ErrMathOverflow is returned by checked arithmetic. Ledger transactions treat
// it as a hard failure: the whole transaction aborts with no partial state
// change.
var ErrMathOverflow = errors.New("math overflow")

// CheckedAdd returns a+b, failing instead of wrapping around.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedMul returns a*b, failing instead of wrapping around.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, ErrMathOverflow
	}
	return product, nil
}

// CheckedAddInt64 returns a+b for signed epoch arithmetic (session expiry
// timestamps), failing on overflow in either direction.
func CheckedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrMathOverflow
	}
	return sum, nil
}
