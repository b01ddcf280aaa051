package vehicle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/danmuck/groundctl/internal/sim"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	name  string
	value float64
	typ   dialect.ParamType
}

// fakeSource serves a fixed table and accepts every write.
type fakeSource struct {
	mu     sync.Mutex
	table  map[string]params.Parameter
	calls  []setCall
	reject map[string]bool
}

func newFakeSource(ps ...sim.Param) *fakeSource {
	f := &fakeSource{table: map[string]params.Parameter{}, reject: map[string]bool{}}
	for i, p := range ps {
		f.table[p.Name] = params.Parameter{Name: p.Name, Index: uint16(i), Type: p.Type, Value: float64(p.Value), Original: float64(p.Value)}
	}
	return f
}

func (f *fakeSource) Snapshot() map[string]params.Parameter {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]params.Parameter, len(f.table))
	for k, v := range f.table {
		out[k] = v
	}
	return out
}

func (f *fakeSource) Set(_ context.Context, name string, value float64, t dialect.ParamType) params.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{name, value, t})
	if f.reject[name] {
		return params.Result{Name: name, Value: value, Attempts: 3, Err: params.ErrSetRejected}
	}
	p := f.table[name]
	p.Value, p.Original = value, value
	f.table[name] = p
	return params.Result{Name: name, Value: value, OK: true, Attempts: 1}
}

func TestServosGroupByNumber(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource(
		sim.Param{Name: "SERVO10_FUNCTION", Type: dialect.ParamInt16, Value: 70},
		sim.Param{Name: "SERVO2_FUNCTION", Type: dialect.ParamInt16, Value: 34},
		sim.Param{Name: "SERVO2_MIN", Type: dialect.ParamInt16, Value: 1000},
		sim.Param{Name: "SERVO2_MAX", Type: dialect.ParamInt16, Value: 2000},
		sim.Param{Name: "SERVO2_TRIM", Type: dialect.ParamInt16, Value: 1500},
		sim.Param{Name: "SERVO2_REVERSED", Type: dialect.ParamInt8, Value: 1},
		sim.Param{Name: "SERVO3_MIN", Type: dialect.ParamInt16, Value: 900},
		sim.Param{Name: "SERVO_RATE", Type: dialect.ParamInt16, Value: 50},
	)
	servos := New(src).Servos()
	require.Len(t, servos, 2)
	assert.Equal(t, ServoOutput{Number: 2, Function: 34, Min: 1000, Max: 2000, Trim: 1500, Reversed: true}, servos[0])
	assert.Equal(t, 10, servos[1].Number)
	assert.Equal(t, 70, servos[1].Function)

	_, ok := New(src).Servo(3)
	assert.False(t, ok, "output without FUNCTION is not listed")
}

func TestSetServoRangeUsesCachedTypes(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource(
		sim.Param{Name: "SERVO1_MIN", Type: dialect.ParamInt16, Value: 1100},
		sim.Param{Name: "SERVO1_TRIM", Type: dialect.ParamInt16, Value: 1500},
		sim.Param{Name: "SERVO1_MAX", Type: dialect.ParamInt16, Value: 1900},
		sim.Param{Name: "SERVO1_REVERSED", Type: dialect.ParamInt8, Value: 0},
	)
	repo := New(src)

	results := repo.SetServoRange(context.Background(), 1, 1000, 1450, 2000)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, res.OK, res.Name)
	}
	assert.Equal(t, []setCall{
		{"SERVO1_MIN", 1000, dialect.ParamInt16},
		{"SERVO1_TRIM", 1450, dialect.ParamInt16},
		{"SERVO1_MAX", 2000, dialect.ParamInt16},
	}, src.calls)

	res := repo.SetServoReversed(context.Background(), 1, true)
	assert.True(t, res.OK)
	assert.Equal(t, setCall{"SERVO1_REVERSED", 1, dialect.ParamInt8}, src.calls[3])
}

func TestSetServoRangeStopsAtFirstFailure(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource(
		sim.Param{Name: "SERVO1_MIN", Type: dialect.ParamInt16},
		sim.Param{Name: "SERVO1_TRIM", Type: dialect.ParamInt16},
		sim.Param{Name: "SERVO1_MAX", Type: dialect.ParamInt16},
	)
	src.reject["SERVO1_TRIM"] = true
	results := New(src).SetServoRange(context.Background(), 1, 1000, 1500, 2000)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[1].Err, params.ErrSetRejected)
	assert.Len(t, src.calls, 2)

	bad := New(src).SetServoRange(context.Background(), 1, 2000, 1500, 1000)
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0].Err, params.ErrInvalid)
	assert.Len(t, src.calls, 2, "inverted range must not be written")
}

func TestUnknownParameterIsNotWritten(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource()
	res := New(src).SetSerialBaud(context.Background(), 7, 115)
	assert.ErrorIs(t, res.Err, params.ErrUnknownParam)
	assert.Empty(t, src.calls)
}

func TestSerialPortsAndFrame(t *testing.T) {
	testlog.Start(t)
	src := newFakeSource(sim.DefaultTable()...)
	repo := New(src)

	ports := repo.SerialPorts()
	require.Len(t, ports, 5)
	assert.Equal(t, 0, ports[0].Number)
	assert.Equal(t, SerialPort{Number: 4, Protocol: 2, Baud: 57}, ports[4])
	assert.Equal(t, "MAVLink2", ports[0].ProtocolName())
	assert.Equal(t, "protocol 99", SerialPort{Protocol: 99}.ProtocolName())

	f, ok := repo.Frame()
	require.True(t, ok)
	assert.Equal(t, "Quad/X", f.String())

	_, ok = New(newFakeSource()).Frame()
	assert.False(t, ok)

	results := repo.SetFrame(context.Background(), 2, 0)
	require.Len(t, results, 2)
	f, _ = repo.Frame()
	assert.Equal(t, "Hexa/Plus", f.String())
}

func TestViewsOverLiveSynchronizer(t *testing.T) {
	testlog.Start(t)
	opts := sim.DefaultOptions()
	opts.HeartbeatInterval = 0
	v := sim.New(sim.DefaultTable(), opts)

	sc := session.DefaultConfig()
	sc.HeartbeatInterval, sc.HeartbeatTimeout = 0, 0
	s := session.New(v.Provider(log.Logger), sc, log.Logger)
	require.NoError(t, s.Connect(context.Background(), link.TCP("sim", 5760)))
	defer s.Close()

	pc := params.DefaultConfig()
	pc.QuiescenceTimeout = 150 * time.Millisecond
	pc.SettleWindow = 30 * time.Millisecond
	sy := params.New(s, pc, log.Logger)
	defer sy.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := sy.RequestAll(ctx, true)
	require.NoError(t, err)

	repo := New(sy)
	assert.Len(t, repo.Servos(), 8)

	res := repo.SetServoFunction(ctx, 3, 19)
	require.True(t, res.OK, "%v", res.Err)
	got, _ := v.Param("SERVO3_FUNCTION")
	assert.Equal(t, float32(19), got.Value)
	servo, ok := repo.Servo(3)
	require.True(t, ok)
	assert.Equal(t, 19, servo.Function)
}
