package params

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danmuck/groundctl/internal/observability"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/session"
)

type setWaiter struct {
	name  string
	acks  chan dialect.ParamValue
	abort chan error
}

func newSetWaiter(name string) *setWaiter {
	return &setWaiter{
		name:  name,
		acks:  make(chan dialect.ParamValue, 8),
		abort: make(chan error, 1),
	}
}

func (w *setWaiter) deliver(pv dialect.ParamValue) {
	select {
	case w.acks <- pv:
	default:
	}
}

func (w *setWaiter) fail(err error) {
	select {
	case w.abort <- err:
	default:
	}
}

func (s *Synchronizer) removeWaiter(w *setWaiter) {
	ws := s.waiters[w.name]
	for i, v := range ws {
		if v == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(s.waiters, w.name)
		return
	}
	s.waiters[w.name] = ws
}

func (s *Synchronizer) validate(name string, value float64, t dialect.ParamType) error {
	if err := Validate(name, value, t, s.cfg.Metadata[name]); err != nil {
		return err
	}
	if p, ok := s.Get(name); ok && p.Type != t {
		return invalid(name, "type %s does not match cached %s", t, p.Type)
	}
	return nil
}

type ackOutcome int

const (
	ackMatched ackOutcome = iota
	ackMismatch
	ackTimeout
	ackAborted
)

// Set writes one value and waits for the remote to echo it back. A value
// the remote quantizes or clamps is retried up to MaxSetAttempts; on
// exhaustion the cache keeps its confirmed original.
func (s *Synchronizer) Set(ctx context.Context, name string, value float64, t dialect.ParamType) Result {
	res := Result{Name: name, Value: value}
	if err := s.validate(name, value, t); err != nil {
		res.Err = err
		return res
	}
	wire, want, err := s.cfg.Encoding.normalize(value, t)
	if err != nil {
		res.Err = invalid(name, "%v", err)
		return res
	}

	w := newSetWaiter(name)
	if err := s.exec(ctx, func() { s.waiters[name] = append(s.waiters[name], w) }); err != nil {
		res.Err = err
		return res
	}
	defer s.post(func() { s.removeWaiter(w) })

	sys, comp := s.conn.Target()
	msg := &dialect.ParamSet{
		ParamValue:      wire,
		TargetSystem:    sys,
		TargetComponent: comp,
		ParamID:         name,
		ParamType:       t,
	}
	rejected := false
	for attempt := 1; attempt <= s.cfg.MaxSetAttempts; attempt++ {
		res.Attempts = attempt
		if err := s.conn.Send(ctx, msg); err != nil {
			res.Err = err
			return res
		}
		outcome, ack, err := s.awaitAck(ctx, w, t, want)
		switch outcome {
		case ackMatched:
			observability.RecordSetAttempt("ack")
			res.OK = true
			res.Observed, res.HasObserved = want, true
			if err := s.exec(context.Background(), func() { s.commit(ack, want) }); err != nil {
				s.logger.Debug().Err(err).Str("param", name).Msg("commit after cleanup")
			}
			s.logger.Info().Str("param", name).Float64("value", want).Int("attempts", attempt).Msg("parameter set")
			return res
		case ackMismatch:
			observability.RecordSetAttempt("mismatch")
			rejected = true
			res.Observed = s.cfg.Encoding.Decode(ack.ParamValue, ack.ParamType)
			res.HasObserved = true
			s.logger.Debug().Str("param", name).Float64("want", want).Float64("observed", res.Observed).
				Int("attempt", attempt).Msg("ack mismatch")
		case ackTimeout:
			observability.RecordSetAttempt("timeout")
			s.logger.Debug().Str("param", name).Int("attempt", attempt).Msg("ack timeout")
		case ackAborted:
			res.Err = err
			return res
		}
	}
	if rejected {
		res.Err = fmt.Errorf("%w: %s wanted %v, remote reports %v", ErrSetRejected, name, want, res.Observed)
	} else {
		res.Err = ErrAckTimeout
	}
	s.logger.Warn().Err(res.Err).Str("param", name).Int("attempts", res.Attempts).Msg("parameter set failed")
	return res
}

func (s *Synchronizer) awaitAck(ctx context.Context, w *setWaiter, t dialect.ParamType, want float64) (ackOutcome, dialect.ParamValue, error) {
	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case ack := <-w.acks:
		observed := s.cfg.Encoding.Decode(ack.ParamValue, ack.ParamType)
		if ack.ParamType == t && observed == want {
			return ackMatched, ack, nil
		}
		return ackMismatch, ack, nil
	case <-timer.C:
		return ackTimeout, dialect.ParamValue{}, nil
	case err := <-w.abort:
		return ackAborted, dialect.ParamValue{}, err
	case <-ctx.Done():
		return ackAborted, dialect.ParamValue{}, ctx.Err()
	case <-s.done:
		return ackAborted, dialect.ParamValue{}, ErrClosed
	}
}

// commit records a confirmed write and clears its pending edit.
func (s *Synchronizer) commit(ack dialect.ParamValue, value float64) {
	s.mu.Lock()
	p := s.table[ack.ParamID]
	p.Name = ack.ParamID
	p.Type = ack.ParamType
	p.Group = Group(ack.ParamID)
	p.Description = s.cfg.Metadata[ack.ParamID].Description
	if ack.ParamIndex != dialect.ParamIndexUnknown {
		p.Index = ack.ParamIndex
	}
	p.Original = value
	p.Value = value
	s.table[ack.ParamID] = p
	delete(s.edits, ack.ParamID)
	s.mu.Unlock()
	s.publishTable()
}

// Edit stages a new value for a cached parameter without sending it.
func (s *Synchronizer) Edit(name string, value float64) error {
	p, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	if err := Validate(name, value, p.Type, s.cfg.Metadata[name]); err != nil {
		return err
	}
	var missing bool
	err := s.exec(context.Background(), func() {
		s.mu.Lock()
		defer s.publishTable()
		defer s.mu.Unlock()
		p, ok := s.table[name]
		if !ok {
			missing = true
			return
		}
		p.Value = value
		s.table[name] = p
		if value == p.Original {
			delete(s.edits, name)
		} else {
			s.edits[name] = value
		}
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return nil
}

// Discard drops the pending edit for name.
func (s *Synchronizer) Discard(name string) error {
	return s.exec(context.Background(), func() {
		s.mu.Lock()
		s.revertLocked(name)
		s.mu.Unlock()
		s.publishTable()
	})
}

// DiscardAll drops every pending edit.
func (s *Synchronizer) DiscardAll() error {
	return s.exec(context.Background(), func() {
		s.mu.Lock()
		for name := range s.edits {
			s.revertLocked(name)
		}
		s.mu.Unlock()
		s.publishTable()
	})
}

func (s *Synchronizer) revertLocked(name string) {
	if _, ok := s.edits[name]; !ok {
		return
	}
	delete(s.edits, name)
	if p, ok := s.table[name]; ok {
		p.Value = p.Original
		s.table[name] = p
	}
}

// Pending copies the pending edit set.
func (s *Synchronizer) Pending() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.edits))
	for k, v := range s.edits {
		out[k] = v
	}
	return out
}

// SavePending writes every pending edit, one at a time, separated by
// BatchPacing. Each write reports its own result; failed edits stay pending.
func (s *Synchronizer) SavePending(ctx context.Context) []Result {
	pending := s.Pending()
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for i, name := range names {
		if i > 0 && !session.Sleep(ctx.Done(), s.cfg.BatchPacing) {
			for _, rest := range names[i:] {
				results = append(results, Result{Name: rest, Value: pending[rest], Err: ctx.Err()})
			}
			break
		}
		p, ok := s.Get(name)
		if !ok {
			results = append(results, Result{Name: name, Value: pending[name], Err: fmt.Errorf("%w: %s", ErrUnknownParam, name)})
			continue
		}
		results = append(results, s.Set(ctx, name, pending[name], p.Type))
	}
	return results
}
