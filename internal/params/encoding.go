package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

// Encoding maps typed values onto the float32 param_value field.
type Encoding int

const (
	// EncodingCast converts numerically (ArduPilot).
	EncodingCast Encoding = iota
	// EncodingBytewise stores the integer bytes in the float's bit pattern
	// (PX4 union encoding).
	EncodingBytewise
)

func (e Encoding) String() string {
	if e == EncodingBytewise {
		return "bytewise"
	}
	return "cast"
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cast", "ardupilot":
		return EncodingCast, nil
	case "bytewise", "px4", "union":
		return EncodingBytewise, nil
	default:
		return 0, fmt.Errorf("params: unknown encoding %q", s)
	}
}

// Encode converts a validated value to its wire representation.
func (e Encoding) Encode(v float64, t dialect.ParamType) (float32, error) {
	if e == EncodingCast || t == dialect.ParamReal32 {
		return float32(v), nil
	}
	var bits uint32
	switch t {
	case dialect.ParamUint8:
		bits = uint32(uint8(v))
	case dialect.ParamInt8:
		bits = uint32(uint8(int8(v)))
	case dialect.ParamUint16:
		bits = uint32(uint16(v))
	case dialect.ParamInt16:
		bits = uint32(uint16(int16(v)))
	case dialect.ParamUint32:
		bits = uint32(v)
	case dialect.ParamInt32:
		bits = uint32(int32(v))
	default:
		return 0, fmt.Errorf("params: %s does not fit bytewise encoding", t)
	}
	return math.Float32frombits(bits), nil
}

// Decode converts a wire value back to a typed number.
func (e Encoding) Decode(w float32, t dialect.ParamType) float64 {
	if e == EncodingCast {
		if t.Integer() {
			return math.Round(float64(w))
		}
		return float64(w)
	}
	bits := math.Float32bits(w)
	switch t {
	case dialect.ParamUint8:
		return float64(uint8(bits))
	case dialect.ParamInt8:
		return float64(int8(uint8(bits)))
	case dialect.ParamUint16:
		return float64(uint16(bits))
	case dialect.ParamInt16:
		return float64(int16(uint16(bits)))
	case dialect.ParamUint32:
		return float64(bits)
	case dialect.ParamInt32:
		return float64(int32(bits))
	default:
		return float64(w)
	}
}

// normalize is the value the remote reports after a lossless round trip.
func (e Encoding) normalize(v float64, t dialect.ParamType) (float32, float64, error) {
	w, err := e.Encode(v, t)
	if err != nil {
		return 0, 0, err
	}
	return w, e.Decode(w, t), nil
}
