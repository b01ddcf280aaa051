package sim

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startVehicle(t *testing.T, v *Vehicle) (*frame.Reader, *frame.Writer) {
	t.Helper()
	local, remote := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = v.Serve(ctx, remote) }()
	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		_ = remote.Close()
	})
	return frame.NewReader(local, nil), frame.NewWriter(local, nil)
}

func nextValue(t *testing.T, r *frame.Reader) *dialect.ParamValue {
	t.Helper()
	for {
		f, err := r.Read()
		require.NoError(t, err)
		if pv, ok := f.Message.(*dialect.ParamValue); ok {
			return pv
		}
	}
}

func gcs(msg dialect.Message) *frame.Frame {
	return &frame.Frame{SystemID: 255, ComponentID: 190, Message: msg}
}

func TestListStreamsEveryParamExceptDropped(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.HeartbeatInterval = 0
	opts.DropList = map[uint16]bool{2: true}
	v := New(Numbered(4), opts)
	r, w := startVehicle(t, v)

	require.NoError(t, w.Write(gcs(&dialect.ParamRequestList{TargetSystem: 1, TargetComponent: 1}), frame.UnsignedV2))
	var got []uint16
	for i := 0; i < 3; i++ {
		pv := nextValue(t, r)
		assert.Equal(t, uint16(4), pv.ParamCount)
		got = append(got, pv.ParamIndex)
	}
	assert.Equal(t, []uint16{0, 1, 3}, got)

	require.NoError(t, w.Write(gcs(&dialect.ParamRequestRead{ParamIndex: 2, TargetSystem: 1}), frame.UnsignedV2))
	pv := nextValue(t, r)
	assert.Equal(t, "P002", pv.ParamID)
}

func TestSetPolicies(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.HeartbeatInterval = 0
	opts.OnSet = Reject("SERVO1_FUNCTION")
	v := New([]Param{
		{Name: "SERVO1_FUNCTION", Type: dialect.ParamUint8, Value: 0},
		{Name: "RC1_MIN", Type: dialect.ParamInt16, Value: 1100},
	}, opts)
	r, w := startVehicle(t, v)

	require.NoError(t, w.Write(gcs(&dialect.ParamSet{ParamID: "SERVO1_FUNCTION", ParamValue: 33, ParamType: dialect.ParamUint8}), frame.UnsignedV2))
	assert.Equal(t, float32(0), nextValue(t, r).ParamValue)

	require.NoError(t, w.Write(gcs(&dialect.ParamSet{ParamID: "RC1_MIN", ParamValue: 1000, ParamType: dialect.ParamInt16}), frame.UnsignedV2))
	assert.Equal(t, float32(1000), nextValue(t, r).ParamValue)

	p, ok := v.Param("RC1_MIN")
	require.True(t, ok)
	assert.Equal(t, float32(1000), p.Value)
	assert.Equal(t, 2, v.Count(dialect.MsgParamSet))

	assert.Equal(t, float32(10), Clamp(0, 10)("X", 50, 3))
}

func TestHeartbeatsAreEmitted(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.HeartbeatInterval = 10 * time.Millisecond
	r, _ := startVehicle(t, New(nil, opts))

	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, dialect.MsgHeartbeat, f.MessageID)
	assert.Equal(t, uint8(1), f.SystemID)
}

func TestDropReadsIgnoresRequestsThenAnswers(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.HeartbeatInterval = 0
	opts.DropReads = map[uint16]int{0: 1}
	v := New(Numbered(1), opts)
	r, w := startVehicle(t, v)

	req := gcs(&dialect.ParamRequestRead{ParamIndex: 0})
	require.NoError(t, w.Write(req, frame.UnsignedV2))
	require.NoError(t, w.Write(gcs(&dialect.ParamRequestRead{ParamIndex: 0}), frame.UnsignedV2))
	assert.Equal(t, "P000", nextValue(t, r).ParamID)
	assert.Equal(t, []int16{0, 0}, v.ReadsFor())
}

func TestSignedVehicleSignsReplies(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.HeartbeatInterval = 0
	opts.Mode = frame.SignedV2
	opts.Signer = frame.NewSigner(1, frame.KeyFromPassphrase("field"))
	v := New(Numbered(1), opts)

	local, remote := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = v.Serve(ctx, remote) }()
	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		_ = remote.Close()
	})
	key := opts.Signer.Key
	r := frame.NewReader(local, &key)
	w := frame.NewWriter(local, frame.NewSigner(2, key))

	require.NoError(t, w.Write(gcs(&dialect.ParamRequestRead{ParamIndex: 0, TargetSystem: 1}), frame.SignedV2))
	f, err := r.Read()
	require.NoError(t, err)
	require.NotNil(t, f.Signature)
	assert.Equal(t, uint8(1), f.Signature.LinkID)
}
