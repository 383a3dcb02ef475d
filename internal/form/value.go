// Package form decodes loosely typed browser payloads and carries the
// client-facing validation error.
package form

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Davelummy/taxagent/internal/estimate"
)

var leadingInt = regexp.MustCompile(`^[+-]?\d+`)

// Value is a form scalar that browsers send either as a JSON string, number
// or boolean. It keeps the textual form and converts on demand.
type Value struct {
	raw      string
	isString bool
	set      bool
}

// V builds a string Value.
func V(s string) Value { return Value{raw: s, isString: true, set: true} }

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = Value{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value{raw: s, isString: true, set: true}
		return nil
	}
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		// Objects and arrays are kept as unset values.
		*v = Value{}
		return nil
	}
	*v = Value{raw: string(b), set: true}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	if v.isString {
		return json.Marshal(v.raw)
	}
	return []byte(v.raw), nil
}

// IsSet reports whether a non-null value was supplied.
func (v Value) IsSet() bool { return v.set }

// String returns the trimmed text.
func (v Value) String() string { return strings.TrimSpace(v.raw) }

// Text returns the trimmed text or nil when blank or not a string.
func (v Value) Text() *string {
	if !v.isString {
		return nil
	}
	s := strings.TrimSpace(v.raw)
	if s == "" {
		return nil
	}
	return &s
}

// Digits returns only the decimal digits of a string value, truncated to max.
func (v Value) Digits(max int) string {
	if !v.isString {
		return ""
	}
	var b strings.Builder
	for _, r := range v.raw {
		if r >= '0' && r <= '9' {
			if b.Len() == max {
				break
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Int parses a leading integer ("2025", "12 kids"); nil when none.
func (v Value) Int() *int {
	s := strings.TrimSpace(v.raw)
	if !v.set || s == "" {
		return nil
	}
	m := leadingInt.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// Number parses the whole value as a finite float; nil when blank or invalid.
func (v Value) Number() *float64 {
	s := strings.TrimSpace(v.raw)
	if !v.set || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// Amount parses user-entered money and returns 0 when unparseable.
func (v Value) Amount() float64 {
	if !v.set {
		return 0
	}
	return estimate.ToAmount(v.raw)
}

// Checked reports a consent-style flag: true, "true" or "on".
func (v Value) Checked() bool {
	if !v.set {
		return false
	}
	return v.raw == "true" || (v.isString && v.raw == "on")
}

// IsTrue reports a JSON true or the string "true".
func (v Value) IsTrue() bool { return v.set && v.raw == "true" }

// ValidationError is a rejected payload. Message is safe to show.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid returns a *ValidationError carrying msg.
func Invalid(msg string) error { return &ValidationError{Message: msg} }
