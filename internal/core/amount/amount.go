package amount

import (
	"database/sql/driver"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Amount is a fixed-point decimal used for every price and volume in the
// system. Floating point is never involved: values travel as decimal
// strings between Go and the database.
type Amount struct {
	dec apd.Decimal
}

// Column scales, matching the persisted NUMERIC types.
const (
	VolumeScale = 4 // holdings/orders/transactions volume NUMERIC(10,4)
	PriceScale  = 8 // order/transaction price NUMERIC(15,8)
)

// decCtx is the shared arithmetic context. 34 digits comfortably covers
// NUMERIC(15,8) operands and the intermediate products of pro-rata math.
var decCtx = apd.BaseContext.WithPrecision(34)

// floorCtx truncates toward zero. Used when splitting a fixed pool so the
// quantized parts can never sum to more than the whole.
var floorCtx = func() *apd.Context {
	c := *decCtx
	c.Rounding = apd.RoundDown
	return &c
}()

// Parse converts a decimal string into an Amount.
func Parse(s string) (Amount, error) {
	var a Amount
	if _, _, err := a.dec.SetString(s); err != nil {
		return Amount{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return a, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromInt64 builds an Amount from an integer count of whole units.
func FromInt64(v int64) Amount {
	var a Amount
	a.dec.SetInt64(v)
	return a
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var r Amount
	decCtx.Add(&r.dec, &a.dec, &b.dec)
	return r
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	var r Amount
	decCtx.Sub(&r.dec, &a.dec, &b.dec)
	return r
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	var r Amount
	decCtx.Neg(&r.dec, &a.dec)
	return r
}

// Mul returns a * b.
func (a Amount) Mul(b Amount) Amount {
	var r Amount
	decCtx.Mul(&r.dec, &a.dec, &b.dec)
	return r
}

// Div returns a / b. Division by zero returns an error rather than
// propagating a NaN into ledger math.
func (a Amount) Div(b Amount) (Amount, error) {
	if b.IsZero() {
		return Amount{}, fmt.Errorf("division by zero")
	}
	var r Amount
	if _, err := decCtx.Quo(&r.dec, &a.dec, &b.dec); err != nil {
		return Amount{}, err
	}
	return r, nil
}

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.dec.Cmp(&b.dec)
}

// Sign returns -1, 0 or +1 depending on the sign of a.
func (a Amount) Sign() int {
	return a.dec.Sign()
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.dec.IsZero()
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool {
	return a.dec.Sign() > 0
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// QuantizeVolume rounds to the volume column scale (4 decimal places).
func (a Amount) QuantizeVolume() Amount {
	var r Amount
	decCtx.Quantize(&r.dec, &a.dec, -VolumeScale)
	return r
}

// QuantizeVolumeFloor truncates to the volume column scale (4 decimal
// places), rounding toward zero.
func (a Amount) QuantizeVolumeFloor() Amount {
	var r Amount
	floorCtx.Quantize(&r.dec, &a.dec, -VolumeScale)
	return r
}

// QuantizePrice rounds to the price column scale (8 decimal places).
func (a Amount) QuantizePrice() Amount {
	var r Amount
	decCtx.Quantize(&r.dec, &a.dec, -PriceScale)
	return r
}

// String renders the amount in plain (non-scientific) notation, which is
// also the form Postgres accepts for NUMERIC parameters.
func (a Amount) String() string {
	return a.dec.Text('f')
}

// Value implements driver.Valuer.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner. NUMERIC columns arrive as text; integer
// aggregates (e.g. COALESCE(..., 0)) may arrive as int64.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		a.dec = apd.Decimal{}
		return nil
	case []byte:
		_, _, err := a.dec.SetString(string(v))
		return err
	case string:
		_, _, err := a.dec.SetString(v)
		return err
	case int64:
		a.dec.SetInt64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}

// NullAmount is an Amount that may be absent, mirroring a nullable NUMERIC
// column such as an order's price.
type NullAmount struct {
	Amount Amount
	Valid  bool
}

// Scan implements sql.Scanner.
func (n *NullAmount) Scan(src interface{}) error {
	if src == nil {
		n.Amount, n.Valid = Amount{}, false
		return nil
	}
	n.Valid = true
	return n.Amount.Scan(src)
}

// Value implements driver.Valuer.
func (n NullAmount) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Amount.Value()
}

// Ptr returns nil when absent, otherwise a copy of the amount.
func (n NullAmount) Ptr() *Amount {
	if !n.Valid {
		return nil
	}
	a := n.Amount
	return &a
}

// FromPtr builds a NullAmount from an optional amount.
func FromPtr(p *Amount) NullAmount {
	if p == nil {
		return NullAmount{}
	}
	return NullAmount{Amount: *p, Valid: true}
}
