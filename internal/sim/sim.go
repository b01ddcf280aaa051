// Package sim is an in-process flight controller that speaks the parameter
// protocol over any byte stream. Tests drive it through net.Pipe and
// cmd/fcsim serves it on TCP.
package sim

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Param is one entry of the simulated table.
type Param struct {
	Name  string
	Type  dialect.ParamType
	Value float32
}

// SetPolicy returns the value the vehicle stores and acknowledges for a
// PARAM_SET of requested over current.
type SetPolicy func(name string, requested, current float32) float32

// Accept stores every requested value.
func Accept(_ string, requested, _ float32) float32 { return requested }

// Reject keeps the current value for the named parameters.
func Reject(names ...string) SetPolicy {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string, requested, current float32) float32 {
		if set[name] {
			return current
		}
		return requested
	}
}

// AckWith acknowledges value for every set, storing it.
func AckWith(value float32) SetPolicy {
	return func(string, float32, float32) float32 { return value }
}

// Clamp limits stored values to [lo, hi].
func Clamp(lo, hi float32) SetPolicy {
	return func(_ string, requested, _ float32) float32 {
		return min(max(requested, lo), hi)
	}
}

type Options struct {
	SystemID    uint8
	ComponentID uint8
	Mode        frame.SigningMode
	// Signer signs outbound frames and verifies inbound ones when set.
	Signer *frame.Signer
	// HeartbeatInterval paces the vehicle heartbeat; zero disables it.
	HeartbeatInterval time.Duration
	// ListPacing is the gap between PARAM_VALUE frames of a list stream.
	ListPacing time.Duration
	// DropList omits these indices from every list stream.
	DropList map[uint16]bool
	// DropReads ignores that many PARAM_REQUEST_READ frames per index.
	DropReads map[uint16]int
	// LazyCount reports the table size as index+1 until the last frame.
	LazyCount bool
	OnSet     SetPolicy
	// Silent suppresses every reply; only heartbeats are emitted.
	Silent bool
	Logger zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		SystemID:          1,
		ComponentID:       1,
		Mode:              frame.UnsignedV2,
		HeartbeatInterval: 50 * time.Millisecond,
		OnSet:             Accept,
		Logger:            zerolog.Nop(),
	}
}

// Vehicle is the simulated flight controller.
type Vehicle struct {
	opts Options

	mu        sync.Mutex
	params    []Param
	byName    map[string]int
	dropReads map[uint16]int
	inbound   []frame.Frame
}

func New(params []Param, opts Options) *Vehicle {
	if opts.OnSet == nil {
		opts.OnSet = Accept
	}
	v := &Vehicle{
		opts:      opts,
		params:    append([]Param(nil), params...),
		byName:    make(map[string]int, len(params)),
		dropReads: make(map[uint16]int, len(opts.DropReads)),
	}
	for i, p := range v.params {
		v.byName[p.Name] = i
	}
	for idx, n := range opts.DropReads {
		v.dropReads[idx] = n
	}
	return v
}

// Serve answers frames read from rw until it fails or ctx ends.
func (v *Vehicle) Serve(ctx context.Context, rw io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var verify *frame.SigningKey
	if v.opts.Signer != nil {
		key := v.opts.Signer.Key
		verify = &key
	}
	out := &sender{w: frame.NewWriter(rw, v.opts.Signer), mode: v.opts.Mode, sys: v.opts.SystemID, comp: v.opts.ComponentID}
	if v.opts.HeartbeatInterval > 0 {
		go v.heartbeat(ctx, out)
	}

	r := frame.NewReader(rw, verify)
	for {
		f, err := r.Read()
		if err != nil {
			if frame.IsRecoverable(err) {
				continue
			}
			return err
		}
		v.mu.Lock()
		v.inbound = append(v.inbound, f)
		v.mu.Unlock()
		if v.opts.Silent {
			continue
		}
		switch m := f.Message.(type) {
		case *dialect.ParamRequestList:
			go v.streamList(ctx, out)
		case *dialect.ParamRequestRead:
			v.answerRead(out, m)
		case *dialect.ParamSet:
			v.applySet(out, m)
		}
	}
}

// ServeTCP accepts connections on ln and serves each until ctx ends.
func (v *Vehicle) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		v.opts.Logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		go func() {
			defer conn.Close()
			err := v.Serve(ctx, conn)
			v.opts.Logger.Info().Err(err).Msg("client gone")
		}()
	}
}

// Provider returns a link.Provider whose links are connected to this
// vehicle through net.Pipe.
func (v *Vehicle) Provider(logger zerolog.Logger) link.Provider {
	return link.ProviderFunc(func(cfg link.Config) (link.Link, error) {
		dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
			local, remote := net.Pipe()
			go func() {
				defer remote.Close()
				_ = v.Serve(context.Background(), remote)
			}()
			return local, nil
		}
		return link.NewStreamLink(link.KindTCP, "sim", dial, link.Options{
			WriteTimeout: time.Second,
			Logger:       logger,
		}), nil
	})
}

func (v *Vehicle) heartbeat(ctx context.Context, out *sender) {
	t := time.NewTicker(v.opts.HeartbeatInterval)
	defer t.Stop()
	hb := &dialect.Heartbeat{Type: 2, Autopilot: 3, SystemStatus: dialect.MavStateActive, MavlinkVersion: dialect.MavlinkVersion}
	for {
		if err := out.send(hb); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (v *Vehicle) streamList(ctx context.Context, out *sender) {
	v.mu.Lock()
	table := append([]Param(nil), v.params...)
	v.mu.Unlock()
	total := len(table)
	for i, p := range table {
		if ctx.Err() != nil {
			return
		}
		if v.opts.DropList[uint16(i)] {
			continue
		}
		count := total
		if v.opts.LazyCount && i < total-1 {
			count = i + 1
		}
		if err := out.send(valueOf(p, i, count)); err != nil {
			return
		}
		if v.opts.ListPacing > 0 {
			time.Sleep(v.opts.ListPacing)
		}
	}
}

func (v *Vehicle) answerRead(out *sender, m *dialect.ParamRequestRead) {
	v.mu.Lock()
	idx := -1
	if m.ParamIndex >= 0 {
		if int(m.ParamIndex) < len(v.params) {
			idx = int(m.ParamIndex)
		}
	} else if i, ok := v.byName[m.ParamID]; ok {
		idx = i
	}
	if idx < 0 {
		v.mu.Unlock()
		return
	}
	if n := v.dropReads[uint16(idx)]; n > 0 {
		v.dropReads[uint16(idx)] = n - 1
		v.mu.Unlock()
		return
	}
	p, total := v.params[idx], len(v.params)
	v.mu.Unlock()
	_ = out.send(valueOf(p, idx, total))
}

func (v *Vehicle) applySet(out *sender, m *dialect.ParamSet) {
	v.mu.Lock()
	idx, ok := v.byName[m.ParamID]
	if !ok {
		v.mu.Unlock()
		return
	}
	p := v.params[idx]
	p.Value = v.opts.OnSet(p.Name, m.ParamValue, p.Value)
	v.params[idx] = p
	total := len(v.params)
	v.mu.Unlock()
	_ = out.send(valueOf(p, idx, total))
}

func valueOf(p Param, idx, count int) *dialect.ParamValue {
	return &dialect.ParamValue{
		ParamValue: p.Value,
		ParamCount: uint16(count),
		ParamIndex: uint16(idx),
		ParamID:    p.Name,
		ParamType:  p.Type,
	}
}

// Param returns the vehicle's current copy of name.
func (v *Vehicle) Param(name string) (Param, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.byName[name]
	if !ok {
		return Param{}, false
	}
	return v.params[i], true
}

// Received returns every frame the vehicle has read, in order.
func (v *Vehicle) Received() []frame.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]frame.Frame(nil), v.inbound...)
}

// Count returns how many received frames carry msgID.
func (v *Vehicle) Count(msgID uint32) int {
	n := 0
	for _, f := range v.Received() {
		if f.MessageID == msgID {
			n++
		}
	}
	return n
}

// ReadsFor returns the PARAM_REQUEST_READ indices received, in order.
func (v *Vehicle) ReadsFor() []int16 {
	var out []int16
	for _, f := range v.Received() {
		if m, ok := f.Message.(*dialect.ParamRequestRead); ok {
			out = append(out, m.ParamIndex)
		}
	}
	return out
}

type sender struct {
	mu   sync.Mutex
	w    *frame.Writer
	mode frame.SigningMode
	sys  uint8
	comp uint8
}

func (s *sender) send(msg dialect.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(&frame.Frame{SystemID: s.sys, ComponentID: s.comp, Message: msg}, s.mode)
}
