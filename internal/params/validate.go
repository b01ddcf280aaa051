package params

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

var ErrInvalid = errors.New("params: invalid value")

// ValidationError is a locally rejected edit. It never reaches the remote.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("params: %s: %s", e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(name, format string, args ...any) *ValidationError {
	return &ValidationError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks name, type tag, numeric range and metadata bounds.
func Validate(name string, v float64, t dialect.ParamType, meta Metadata) error {
	if !dialect.ValidParamID(name) {
		return invalid(name, "name must be 1..%d bytes", dialect.ParamIDLen)
	}
	if !t.Valid() {
		return invalid(name, "unknown type %s", t)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(name, "value %v is not finite", v)
	}
	if t.Integer() && v != math.Trunc(v) {
		return invalid(name, "%s needs an integer, got %v", t, v)
	}
	lo, hi := t.Range()
	if v < lo || v > hi {
		return invalid(name, "%v outside %s range [%v, %v]", v, t, lo, hi)
	}
	if meta.Min != nil && v < *meta.Min {
		return invalid(name, "%v below minimum %v", v, *meta.Min)
	}
	if meta.Max != nil && v > *meta.Max {
		return invalid(name, "%v above maximum %v", v, *meta.Max)
	}
	return nil
}

// ParseValue parses user input for a parameter of type t.
func ParseValue(name, raw string, t dialect.ParamType) (float64, error) {
	raw = strings.TrimSpace(raw)
	if t.Integer() {
		if n, err := strconv.ParseInt(raw, 0, 64); err == nil {
			return float64(n), nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(name, "cannot parse %q", raw)
	}
	return v, nil
}
