package market

import (
	"errors"
	"fmt"
)

// MarketError reports a refused match. When it surfaces out of a settlement
// transaction, the transaction rolls back and both orders remain InMarket.
type MarketError struct {
	Reason string
}

func (e *MarketError) Error() string {
	return "market: " + e.Reason
}

// ErrOrderExpired is returned when either side of a match has outlived its
// expires_in window.
var ErrOrderExpired = &MarketError{Reason: "order has expired"}

func errMarket(format string, args ...interface{}) *MarketError {
	return &MarketError{Reason: fmt.Sprintf(format, args...)}
}

// IsMarketError reports whether err is a match refusal (including expiry).
func IsMarketError(err error) bool {
	var me *MarketError
	return errors.As(err, &me)
}
