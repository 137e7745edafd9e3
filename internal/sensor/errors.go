package sensor

import "errors"

// ErrInvalidReading is returned when a payload cannot be decoded into a Reading.
// Use errors.Is() to check for it; the wrapped message names the offending field.
var ErrInvalidReading = errors.New("sensor: invalid reading")
