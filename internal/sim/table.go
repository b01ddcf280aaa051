package sim

import (
	"fmt"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

// DefaultTable is a small ArduPilot-flavoured table used by cmd/fcsim.
func DefaultTable() []Param {
	table := []Param{
		{Name: "FRAME_CLASS", Type: dialect.ParamInt8, Value: 1},
		{Name: "FRAME_TYPE", Type: dialect.ParamInt8, Value: 1},
		{Name: "SYSID_THISMAV", Type: dialect.ParamInt16, Value: 1},
		{Name: "RC1_MIN", Type: dialect.ParamInt16, Value: 1100},
		{Name: "RC1_MAX", Type: dialect.ParamInt16, Value: 1900},
		{Name: "ATC_RAT_RLL_P", Type: dialect.ParamReal32, Value: 0.135},
	}
	for ch := 1; ch <= 8; ch++ {
		table = append(table,
			Param{Name: fmt.Sprintf("SERVO%d_FUNCTION", ch), Type: dialect.ParamInt16, Value: float32(32 + ch)},
			Param{Name: fmt.Sprintf("SERVO%d_MIN", ch), Type: dialect.ParamInt16, Value: 1100},
			Param{Name: fmt.Sprintf("SERVO%d_MAX", ch), Type: dialect.ParamInt16, Value: 1900},
			Param{Name: fmt.Sprintf("SERVO%d_TRIM", ch), Type: dialect.ParamInt16, Value: 1500},
			Param{Name: fmt.Sprintf("SERVO%d_REVERSED", ch), Type: dialect.ParamInt8, Value: 0},
		)
	}
	for port := 0; port <= 4; port++ {
		table = append(table,
			Param{Name: fmt.Sprintf("SERIAL%d_PROTOCOL", port), Type: dialect.ParamInt8, Value: 2},
			Param{Name: fmt.Sprintf("SERIAL%d_BAUD", port), Type: dialect.ParamInt32, Value: 57},
		)
	}
	return table
}

// Numbered returns n INT16 parameters named P000.., valued by index.
func Numbered(n int) []Param {
	out := make([]Param, n)
	for i := range out {
		out[i] = Param{Name: fmt.Sprintf("P%03d", i), Type: dialect.ParamInt16, Value: float32(i)}
	}
	return out
}
