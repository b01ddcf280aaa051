package dialect

import (
	"fmt"
	"math"
	"strings"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// ParamType is the MAV_PARAM_TYPE on-wire tag.
type ParamType uint8

const (
	ParamUint8  ParamType = 1
	ParamInt8   ParamType = 2
	ParamUint16 ParamType = 3
	ParamInt16  ParamType = 4
	ParamUint32 ParamType = 5
	ParamInt32  ParamType = 6
	ParamUint64 ParamType = 7
	ParamInt64  ParamType = 8
	ParamReal32 ParamType = 9
	ParamReal64 ParamType = 10
)

var paramTypeNames = map[ParamType]string{
	ParamUint8:  "UINT8",
	ParamInt8:   "INT8",
	ParamUint16: "UINT16",
	ParamInt16:  "INT16",
	ParamUint32: "UINT32",
	ParamInt32:  "INT32",
	ParamUint64: "UINT64",
	ParamInt64:  "INT64",
	ParamReal32: "REAL32",
	ParamReal64: "REAL64",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PARAM_TYPE(%d)", uint8(t))
}

// Wire returns the gomavlib enum for t.
func (t ParamType) Wire() common.MAV_PARAM_TYPE { return common.MAV_PARAM_TYPE(t) }

// Valid reports whether t is a known tag.
func (t ParamType) Valid() bool {
	_, ok := paramTypeNames[t]
	return ok
}

// Integer reports whether t is one of the integer tags.
func (t ParamType) Integer() bool {
	return t.Valid() && t != ParamReal32 && t != ParamReal64
}

// Range returns the inclusive numeric bounds representable by t.
func (t ParamType) Range() (float64, float64) {
	switch t {
	case ParamUint8:
		return 0, math.MaxUint8
	case ParamInt8:
		return math.MinInt8, math.MaxInt8
	case ParamUint16:
		return 0, math.MaxUint16
	case ParamInt16:
		return math.MinInt16, math.MaxInt16
	case ParamUint32:
		return 0, math.MaxUint32
	case ParamInt32:
		return math.MinInt32, math.MaxInt32
	case ParamUint64:
		return 0, math.MaxUint64
	case ParamInt64:
		return math.MinInt64, math.MaxInt64
	case ParamReal32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// ParseParamType accepts names like "INT16", "int16" or "MAV_PARAM_TYPE_INT16".
func ParseParamType(raw string) (ParamType, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "MAV_PARAM_TYPE_")
	if name == "FLOAT" {
		return ParamReal32, nil
	}
	for t, n := range paramTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("dialect: unknown param type %q", raw)
}

func (t ParamType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("dialect: invalid param type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *ParamType) UnmarshalText(b []byte) error {
	v, err := ParseParamType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
