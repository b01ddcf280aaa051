package vehicle

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
)

// Source is the part of the synchronizer the views depend on.
type Source interface {
	Snapshot() map[string]params.Parameter
	Set(ctx context.Context, name string, value float64, t dialect.ParamType) params.Result
}

var _ Source = (*params.Synchronizer)(nil)

// Repository derives views from one synchronizer.
type Repository struct {
	src Source
}

func New(src Source) *Repository {
	return &Repository{src: src}
}

// set writes name with its cached type.
func (r *Repository) set(ctx context.Context, name string, value float64) params.Result {
	p, ok := r.src.Snapshot()[name]
	if !ok {
		return params.Result{Name: name, Value: value, Err: fmt.Errorf("%w: %s", params.ErrUnknownParam, name)}
	}
	return r.src.Set(ctx, name, value, p.Type)
}

// instances collects the numbered instances of a prefix, e.g. SERVO1_*,
// SERVO2_*, keyed by number and then by field suffix.
func instances(snap map[string]params.Parameter, re *regexp.Regexp) map[int]map[string]float64 {
	out := map[int]map[string]float64{}
	for name, p := range snap {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if out[n] == nil {
			out[n] = map[string]float64{}
		}
		out[n][m[2]] = p.Value
	}
	return out
}

func sortedKeys(m map[int]map[string]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
