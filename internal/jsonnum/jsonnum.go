// Package jsonnum decodes request fields that clients send either as JSON
// numbers or as numeric strings ("12.32"). Parsing is deferred to the
// component that owns the field so a bad value becomes that component's
// error instead of failing the whole request body.
package jsonnum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissing is returned when the field was absent or null.
var ErrMissing = errors.New("value is missing")

// Value is the raw text of a numeric JSON scalar.
type Value struct {
	raw     string
	present bool
}

// From builds a Value from text, as if it had been decoded from JSON.
func From(s string) Value {
	return Value{raw: strings.TrimSpace(s), present: true}
}

// Float builds a Value holding f.
func Float(f float64) Value {
	return From(strconv.FormatFloat(f, 'f', -1, 64))
}

// UnmarshalJSON accepts a number, a string or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = From(s)
		return nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[' || data[0] == 't' || data[0] == 'f') {
		// Keep the text so the owner reports "not a number" rather than
		// rejecting the whole body.
		*v = Value{raw: string(data), present: true}
		return nil
	}
	*v = From(string(data))
	return nil
}

// MarshalJSON writes numeric values as numbers and anything else as a string.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	if _, err := v.Float64(); err == nil && json.Valid([]byte(v.raw)) {
		return []byte(v.raw), nil
	}
	return json.Marshal(v.raw)
}

// Present reports whether the field was supplied with a non-null value.
func (v Value) Present() bool { return v.present }

// String returns the raw text.
func (v Value) String() string { return v.raw }

// Float64 parses the value. Infinities and NaN are rejected.
func (v Value) Float64() (float64, error) {
	if !v.present {
		return 0, ErrMissing
	}
	f, err := strconv.ParseFloat(v.raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v.raw)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q is not a finite number", v.raw)
	}
	return f, nil
}

// Decimal parses the value as an exact decimal.
func (v Value) Decimal() (decimal.Decimal, error) {
	if !v.present {
		return decimal.Zero, ErrMissing
	}
	d, err := decimal.NewFromString(v.raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", v.raw)
	}
	return d, nil
}

// Int parses the value as a whole number. "3" and "3.0" are accepted, "3.5" is not.
func (v Value) Int() (int64, error) {
	d, err := v.Decimal()
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%q is not a whole number", v.raw)
	}
	return d.IntPart(), nil
}
