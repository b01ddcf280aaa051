package vehicle

import (
	"context"
	"fmt"

	"github.com/danmuck/groundctl/internal/params"
)

const (
	paramFrameClass = "FRAME_CLASS"
	paramFrameType  = "FRAME_TYPE"
)

var frameClassNames = map[int]string{
	0:  "Undefined",
	1:  "Quad",
	2:  "Hexa",
	3:  "Octa",
	4:  "OctaQuad",
	5:  "Y6",
	7:  "Tri",
	10: "SingleCopter",
	12: "DodecaHexa",
	13: "HeliQuad",
}

var frameTypeNames = map[int]string{
	0:  "Plus",
	1:  "X",
	2:  "V",
	3:  "H",
	4:  "V-Tail",
	5:  "A-Tail",
	10: "Y6B",
	12: "BetaFlightX",
}

// FrameType is the airframe class and motor layout.
type FrameType struct {
	Class     int    `json:"class"`
	Type      int    `json:"type"`
	ClassName string `json:"class_name"`
	TypeName  string `json:"type_name"`
}

func (f FrameType) String() string {
	return fmt.Sprintf("%s/%s", f.ClassName, f.TypeName)
}

func label(names map[int]string, v int) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", v)
}

// Frame reports false until FRAME_CLASS has been loaded. A missing
// FRAME_TYPE reads as zero.
func (r *Repository) Frame() (FrameType, bool) {
	snap := r.src.Snapshot()
	class, ok := snap[paramFrameClass]
	if !ok {
		return FrameType{}, false
	}
	f := FrameType{Class: int(class.Value)}
	if t, ok := snap[paramFrameType]; ok {
		f.Type = int(t.Value)
	}
	f.ClassName = label(frameClassNames, f.Class)
	f.TypeName = label(frameTypeNames, f.Type)
	return f, true
}

// SetFrame writes FRAME_CLASS then FRAME_TYPE.
func (r *Repository) SetFrame(ctx context.Context, class, typ int) []params.Result {
	res := r.set(ctx, paramFrameClass, float64(class))
	if !res.OK {
		return []params.Result{res}
	}
	return []params.Result{res, r.set(ctx, paramFrameType, float64(typ))}
}
