package vehicle

import (
	"context"
	"fmt"
	"regexp"

	"github.com/danmuck/groundctl/internal/params"
)

var servoRE = regexp.MustCompile(`^SERVO(\d+)_(FUNCTION|MIN|MAX|TRIM|REVERSED)$`)

// ServoOutput is one SERVOn_* group.
type ServoOutput struct {
	Number   int  `json:"number"`
	Function int  `json:"function"`
	Min      int  `json:"min"`
	Max      int  `json:"max"`
	Trim     int  `json:"trim"`
	Reversed bool `json:"reversed"`
}

// Servos lists outputs that have a FUNCTION parameter, ordered by number.
func (r *Repository) Servos() []ServoOutput {
	groups := instances(r.src.Snapshot(), servoRE)
	out := make([]ServoOutput, 0, len(groups))
	for _, n := range sortedKeys(groups) {
		g := groups[n]
		fn, ok := g["FUNCTION"]
		if !ok {
			continue
		}
		out = append(out, ServoOutput{
			Number:   n,
			Function: int(fn),
			Min:      int(g["MIN"]),
			Max:      int(g["MAX"]),
			Trim:     int(g["TRIM"]),
			Reversed: g["REVERSED"] != 0,
		})
	}
	return out
}

// Servo returns output n.
func (r *Repository) Servo(n int) (ServoOutput, bool) {
	for _, s := range r.Servos() {
		if s.Number == n {
			return s, true
		}
	}
	return ServoOutput{}, false
}

func (r *Repository) SetServoFunction(ctx context.Context, n, function int) params.Result {
	return r.set(ctx, fmt.Sprintf("SERVO%d_FUNCTION", n), float64(function))
}

// SetServoRange writes MIN, TRIM and MAX in that order, stopping at the
// first failure.
func (r *Repository) SetServoRange(ctx context.Context, n, min, trim, max int) []params.Result {
	if min > trim || trim > max {
		err := &params.ValidationError{Name: fmt.Sprintf("SERVO%d", n), Reason: fmt.Sprintf("need min <= trim <= max, got %d/%d/%d", min, trim, max)}
		return []params.Result{{Name: err.Name, Err: err}}
	}
	writes := []struct {
		field string
		value int
	}{{"MIN", min}, {"TRIM", trim}, {"MAX", max}}
	results := make([]params.Result, 0, len(writes))
	for _, w := range writes {
		res := r.set(ctx, fmt.Sprintf("SERVO%d_%s", n, w.field), float64(w.value))
		results = append(results, res)
		if !res.OK {
			break
		}
	}
	return results
}

func (r *Repository) SetServoReversed(ctx context.Context, n int, reversed bool) params.Result {
	v := 0.0
	if reversed {
		v = 1
	}
	return r.set(ctx, fmt.Sprintf("SERVO%d_REVERSED", n), v)
}
