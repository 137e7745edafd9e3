package sensor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reading is one sensor observation. Nil fields are unknown.
type Reading struct {
	Temperature *float64 `json:"temperature"`
	Light       *int64   `json:"light"`
}

// Float64 returns a pointer to v, for building readings in code.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v, for building readings in code.
func Int64(v int64) *int64 { return &v }

// Cleared returns the cleared reading (both values absent).
func Cleared() Reading { return Reading{} }

// IsCleared reports whether both values are absent.
func (r Reading) IsCleared() bool {
	return r.Temperature == nil && r.Light == nil
}

// Clone returns a deep copy so the result shares no pointers with r.
func (r Reading) Clone() Reading {
	var out Reading
	if r.Temperature != nil {
		out.Temperature = Float64(*r.Temperature)
	}
	if r.Light != nil {
		out.Light = Int64(*r.Light)
	}
	return out
}

// Equal reports whether both readings hold the same values.
func (r Reading) Equal(other Reading) bool {
	if (r.Temperature == nil) != (other.Temperature == nil) {
		return false
	}
	if r.Temperature != nil && *r.Temperature != *other.Temperature {
		return false
	}
	if (r.Light == nil) != (other.Light == nil) {
		return false
	}
	return r.Light == nil || *r.Light == *other.Light
}

// String renders the reading for log lines.
func (r Reading) String() string {
	temp, light := "null", "null"
	if r.Temperature != nil {
		temp = strconv.FormatFloat(*r.Temperature, 'g', -1, 64)
	}
	if r.Light != nil {
		light = strconv.FormatInt(*r.Light, 10)
	}
	return fmt.Sprintf("temperature=%s light=%s", temp, light)
}

// Decode parses a JSON object into a Reading.
//
// Values are coerced the way lenient form decoders do it:
//   - Missing or null fields are absent.
//   - temperature accepts a number, a numeric string ("21.5") or a boolean (1 or 0).
//   - light accepts an integral number (300, 300.0, 3e2), an integral
//     numeric string ("300") or a boolean; 3.5 and "3.5" are rejected.
//   - Non-finite values (NaN, Inf) and hexadecimal strings are rejected.
//   - Unknown fields are ignored.
//   - The document itself must be an object; null, arrays and scalars are rejected.
//
// Returns:
//   - Reading: the decoded reading
//   - error: wraps ErrInvalidReading on any failure
func Decode(data []byte) (Reading, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Reading{}, fmt.Errorf("%w: empty body", ErrInvalidReading)
	}
	if trimmed[0] != '{' {
		return Reading{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidReading)
	}

	var r Reading
	if err := json.Unmarshal(trimmed, &r); err != nil {
		if errors.Is(err, ErrInvalidReading) {
			return Reading{}, err
		}
		return Reading{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler with the rules documented on Decode.
// A JSON null leaves r unchanged.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var raw struct {
		Temperature json.RawMessage `json:"temperature"`
		Light       json.RawMessage `json:"light"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	temp, err := decodeTemperature(raw.Temperature)
	if err != nil {
		return err
	}
	light, err := decodeLight(raw.Light)
	if err != nil {
		return err
	}

	r.Temperature = temp
	r.Light = light
	return nil
}

// isNull reports whether a raw field is missing or an explicit null.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// isNumberLiteral reports whether raw starts like a JSON number.
func isNumberLiteral(raw json.RawMessage) bool {
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// numericText returns the number held by a JSON number, numeric string or
// boolean as text for strconv. Objects, arrays and other strings fail.
func numericText(raw json.RawMessage) (string, bool) {
	switch {
	case isNumberLiteral(raw):
		return string(raw), true
	case bytes.Equal(raw, []byte("true")):
		return "1", true
	case bytes.Equal(raw, []byte("false")):
		return "0", true
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.ContainsAny(s, "xX") {
			return "", false
		}
		return s, true
	}
	return "", false
}

// parseFinite parses text as a finite float64.
func parseFinite(text string) (float64, bool) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func decodeTemperature(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	text, ok := numericText(raw)
	if !ok {
		return nil, fmt.Errorf("%w: temperature must be a number", ErrInvalidReading)
	}
	v, ok := parseFinite(text)
	if !ok {
		return nil, fmt.Errorf("%w: temperature must be a finite number", ErrInvalidReading)
	}
	return &v, nil
}

func decodeLight(raw json.RawMessage) (*int64, error) {
	if isNull(raw) {
		return nil, nil
	}
	text, ok := numericText(raw)
	if !ok {
		return nil, fmt.Errorf("%w: light must be an integer", ErrInvalidReading)
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &v, nil
	}

	// Integral floats such as 300.0 or 3e2.
	f, ok := parseFinite(text)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: light must be an integer", ErrInvalidReading)
	}
	v := int64(f)
	return &v, nil
}
