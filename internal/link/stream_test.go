package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingConn struct {
	net.Conn
	closes *atomic.Int32
}

func (c trackingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// pipeDialer hands out one side of a fresh net.Pipe per dial and keeps the
// peers for the test.
type pipeDialer struct {
	mu     sync.Mutex
	opens  atomic.Int32
	closes atomic.Int32
	peers  []net.Conn
}

func (d *pipeDialer) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	local, remote := net.Pipe()
	d.opens.Add(1)
	d.mu.Lock()
	d.peers = append(d.peers, remote)
	d.mu.Unlock()
	return trackingConn{Conn: local, closes: &d.closes}, nil
}

func (d *pipeDialer) peer(i int) net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[i]
}

func newPipeLink(d *pipeDialer, opts Options) *StreamLink {
	opts.Logger = log.Logger
	return NewStreamLink(KindTCP, "pipe", d.dial, opts)
}

func heartbeatFrame() *frame.Frame {
	return &frame.Frame{SystemID: 1, ComponentID: 1, Message: &dialect.Heartbeat{Type: 2, Autopilot: 3}}
}

func TestOpenThenCloseReleasesHandle(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	l := newPipeLink(d, Options{})

	require.NoError(t, l.Open(context.Background()))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, int32(1), d.opens.Load())
	assert.Equal(t, int32(1), d.closes.Load())

	_, err := l.ReceiveNext()
	require.True(t, IsLinkError(err))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, l.Send(heartbeatFrame(), frame.UnsignedV2), ErrNotOpen)
}

func TestReopenClosesPreviousHandle(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	l := newPipeLink(d, Options{})

	require.NoError(t, l.Open(context.Background()))
	require.NoError(t, l.Open(context.Background()))
	assert.Equal(t, int32(2), d.opens.Load())
	assert.Equal(t, int32(1), d.closes.Load())

	require.NoError(t, l.Close())
	assert.Equal(t, int32(2), d.closes.Load())
}

func TestSetupFailureClosesAcquiredHandle(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	boom := errors.New("configure port")
	l := newPipeLink(d, Options{Setup: func(io.ReadWriteCloser) error { return boom }})

	err := l.Open(context.Background())
	require.True(t, IsConnectError(err), "expected ConnectError, got %v", err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), d.closes.Load())

	_, err = l.ReceiveNext()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDialFailureIsConnectError(t *testing.T) {
	testlog.Start(t)
	refused := errors.New("refused")
	l := NewStreamLink(KindTCP, "nowhere", func(context.Context) (io.ReadWriteCloser, error) {
		return nil, refused
	}, Options{Logger: log.Logger})

	err := l.Open(context.Background())
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindTCP, ce.Transport)
	assert.ErrorIs(t, err, refused)
}

func TestSendAndReceiveOverPipe(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	l := newPipeLink(d, Options{WriteTimeout: time.Second})
	require.NoError(t, l.Open(context.Background()))
	defer l.Close()
	peer := d.peer(0)

	go func() {
		_ = l.Send(heartbeatFrame(), frame.UnsignedV2)
	}()
	got, err := frame.NewReader(peer, nil).Read()
	require.NoError(t, err)
	assert.Equal(t, dialect.MsgHeartbeat, got.MessageID)

	go func() {
		_, _ = peer.Write([]byte{0x01, 0x02})
		var buf bytes.Buffer
		_ = frame.NewWriter(&buf, nil).Write(heartbeatFrame(), frame.UnsignedV1)
		encoded := buf.Bytes()
		corrupt := append([]byte(nil), encoded...)
		corrupt[len(corrupt)-1] ^= 0xFF
		_, _ = peer.Write(corrupt)
		_, _ = peer.Write(encoded)
		_ = peer.Close()
	}()
	in, err := l.ReceiveNext()
	require.NoError(t, err)
	assert.Equal(t, frame.V1, in.Version)

	_, err = l.ReceiveNext()
	require.True(t, IsLinkError(err))
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestCloseUnblocksReceive(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	l := newPipeLink(d, Options{})
	require.NoError(t, l.Open(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := l.ReceiveNext()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotOpen)
	case <-time.After(time.Second):
		t.Fatalf("receive did not unblock after close")
	}
}

func TestConcurrentSendsNeverInterleave(t *testing.T) {
	testlog.Start(t)
	d := &pipeDialer{}
	l := newPipeLink(d, Options{})
	require.NoError(t, l.Open(context.Background()))
	defer l.Close()
	peer := d.peer(0)

	const senders, each = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				f := &frame.Frame{SystemID: 255, ComponentID: 190, Message: &dialect.ParamSet{
					ParamValue: float32(i*100 + j), TargetSystem: 1, TargetComponent: 1,
					ParamID: "RC1_MIN", ParamType: dialect.ParamInt16,
				}}
				assert.NoError(t, l.Send(f, frame.UnsignedV2))
			}
		}(i)
	}

	r := frame.NewReader(peer, nil)
	for n := 0; n < senders*each; n++ {
		f, err := r.Read()
		require.NoError(t, err, "frame %d", n)
		_, ok := f.Message.(*dialect.ParamSet)
		require.True(t, ok)
	}
	wg.Wait()
}
