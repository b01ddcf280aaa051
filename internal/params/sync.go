package params

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/groundctl/internal/observability"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/pubsub"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/rs/zerolog"
)

// Conn is the part of a session the synchronizer depends on.
type Conn interface {
	Send(ctx context.Context, msg dialect.Message) error
	WatchFrames() (<-chan frame.Frame, func())
	WatchState() (<-chan session.State, func())
	Target() (system, component uint8)
}

var _ Conn = (*session.Session)(nil)

// Synchronizer mirrors the remote table of one session.
type Synchronizer struct {
	conn   Conn
	cfg    Config
	logger zerolog.Logger

	cmds     chan func()
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	unsub    []func()

	mu       sync.RWMutex
	table    map[string]Parameter
	edits    map[string]float64
	progress Progress

	// owned by the loop goroutine
	states     <-chan session.State
	load       *loadState
	loadSeq    uint64
	active     bool
	waiters    map[string][]*setWaiter
	timer      *time.Timer
	timerC     <-chan time.Time
	tableDirty bool

	tableB    *pubsub.Broadcast[map[string]Parameter]
	progressB *pubsub.Broadcast[Progress]
}

type loadState struct {
	seq         uint64
	started     time.Time
	seen        map[uint16]bool
	names       map[string]bool
	total       int
	listResends int
	missing     slotTracker
	batching    bool
	ctx         context.Context
	cancel      context.CancelFunc
	waiters     []chan loadOutcome
}

type loadOutcome struct {
	progress Progress
	err      error
}

// New subscribes to conn and starts the frame loop. Call Cleanup to stop it.
func New(conn Conn, cfg Config, logger zerolog.Logger) *Synchronizer {
	s := &Synchronizer{
		conn:      conn,
		cfg:       cfg.WithDefaults(),
		logger:    logger.With().Str("component", "params").Logger(),
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		table:     make(map[string]Parameter),
		edits:     make(map[string]float64),
		waiters:   make(map[string][]*setWaiter),
		tableB:    pubsub.New[map[string]Parameter](4, true).OnDrop(observability.StreamDrops("params_table")),
		progressB: pubsub.New[Progress](16, true).OnDrop(observability.StreamDrops("params_progress")),
	}
	s.progressB.Publish(Progress{})
	s.tableB.Publish(map[string]Parameter{})

	frames, cancelFrames := conn.WatchFrames()
	states, cancelStates := conn.WatchState()
	s.states = states
	s.unsub = []func(){cancelFrames, cancelStates}
	go s.run(frames)
	return s
}

func (s *Synchronizer) run(frames <-chan frame.Frame) {
	defer close(s.exited)
	publish := time.NewTicker(s.cfg.PublishEvery)
	defer publish.Stop()
	for {
		select {
		case <-s.done:
			s.shutdown()
			return
		case st, ok := <-s.states:
			if !ok {
				s.states = nil
				continue
			}
			s.onState(st)
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.onFrame(f)
		case fn := <-s.cmds:
			s.drainStates()
			fn()
		case <-s.timerC:
			s.timerC = nil
			s.onQuiet()
		case <-publish.C:
			if s.tableDirty {
				s.publishTable()
			}
		}
	}
}

// drainStates applies state changes already queued so a command never
// runs against a connection that has been torn down.
func (s *Synchronizer) drainStates() {
	for {
		select {
		case st, ok := <-s.states:
			if !ok {
				s.states = nil
				return
			}
			s.onState(st)
		default:
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for it.
func (s *Synchronizer) exec(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting.
func (s *Synchronizer) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

func (s *Synchronizer) onState(st session.State) {
	if st.Active() {
		s.active = true
		return
	}
	if !s.active {
		return
	}
	s.active = false
	err := fmt.Errorf("%w: %s", session.ErrNotConnected, st.Phase)
	if st.Err != nil {
		err = fmt.Errorf("%w: %s: %v", session.ErrNotConnected, st.Phase, st.Err)
	}
	s.logger.Info().Str("phase", st.Phase.String()).Msg("session ended, dropping table")
	s.teardown(err)
}

// teardown fails in-flight work and forgets per-session state.
func (s *Synchronizer) teardown(err error) {
	s.mu.Lock()
	s.table = make(map[string]Parameter)
	s.edits = make(map[string]float64)
	s.mu.Unlock()
	s.publishTable()
	if s.load != nil {
		s.abortLoad(err)
	} else {
		s.setProgress(Progress{})
	}
	for name, ws := range s.waiters {
		for _, w := range ws {
			w.fail(err)
		}
		delete(s.waiters, name)
	}
}

func (s *Synchronizer) shutdown() {
	if s.load != nil {
		s.abortLoad(ErrClosed)
	}
	for name, ws := range s.waiters {
		for _, w := range ws {
			w.fail(ErrClosed)
		}
		delete(s.waiters, name)
	}
	s.disarm()
	for _, cancel := range s.unsub {
		cancel()
	}
	s.tableB.Close()
	s.progressB.Close()
}

func (s *Synchronizer) onFrame(f frame.Frame) {
	pv, ok := f.Message.(*dialect.ParamValue)
	if !ok || !dialect.ValidParamID(pv.ParamID) {
		return
	}
	// states published before this frame are already queued.
	s.drainStates()
	if !s.active {
		return
	}
	if sys, _ := s.conn.Target(); sys != 0 && f.SystemID != sys {
		return
	}
	value := s.cfg.Encoding.Decode(pv.ParamValue, pv.ParamType)

	s.mu.RLock()
	_, cached := s.table[pv.ParamID]
	s.mu.RUnlock()
	ws := s.waiters[pv.ParamID]
	for _, w := range ws {
		w.deliver(*pv)
	}
	// while a write is in flight the ack belongs to the writer, which
	// commits on a match; the confirmed original stays as it was.
	if len(ws) == 0 || !cached {
		s.upsert(pv, value)
	}
	if s.load != nil {
		s.account(pv)
	}
}

func (s *Synchronizer) upsert(pv *dialect.ParamValue, value float64) {
	s.mu.Lock()
	p := s.table[pv.ParamID]
	p.Name = pv.ParamID
	p.Index = pv.ParamIndex
	p.Type = pv.ParamType
	p.Group = Group(pv.ParamID)
	p.Description = s.cfg.Metadata[pv.ParamID].Description
	p.Original = value
	if edit, ok := s.edits[pv.ParamID]; ok {
		p.Value = edit
		if edit == value {
			delete(s.edits, pv.ParamID)
		}
	} else {
		p.Value = value
	}
	s.table[pv.ParamID] = p
	s.mu.Unlock()
	s.tableDirty = true
}

func (s *Synchronizer) account(pv *dialect.ParamValue) {
	l := s.load
	l.names[pv.ParamID] = true
	if n := int(pv.ParamCount); n > l.total {
		l.total = n
	}
	if pv.ParamIndex != dialect.ParamIndexUnknown && int(pv.ParamIndex) < l.total && !l.seen[pv.ParamIndex] {
		l.seen[pv.ParamIndex] = true
		l.missing.remove(pv.ParamIndex)
	}
	s.setProgress(Progress{Current: len(l.seen), Total: l.total})
	s.armLoadTimer()
}

func (s *Synchronizer) armLoadTimer() {
	l := s.load
	switch {
	case l.total > 0 && len(l.seen) >= l.total:
		s.arm(s.cfg.SettleWindow)
	case l.batching:
		s.disarm()
	default:
		s.arm(s.cfg.QuiescenceTimeout)
	}
}

func (s *Synchronizer) arm(d time.Duration) {
	s.disarm()
	s.timer = time.NewTimer(d)
	s.timerC = s.timer.C
}

func (s *Synchronizer) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.timerC = nil
}

// onQuiet runs when the link has been silent for the armed window.
func (s *Synchronizer) onQuiet() {
	l := s.load
	if l == nil {
		return
	}
	if l.total > 0 && len(l.seen) >= l.total {
		s.finishLoad("")
		return
	}
	if l.total == 0 {
		if l.listResends >= s.cfg.MaxRetries {
			s.finishLoad(fmt.Sprintf("no parameters received after %d list requests", l.listResends+1))
			return
		}
		l.listResends++
		s.logger.Debug().Int("attempt", l.listResends).Msg("re-sending parameter list request")
		go func(ctx context.Context) {
			if err := s.sendList(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("re-send list request")
			}
		}(l.ctx)
		s.arm(s.cfg.QuiescenceTimeout)
		return
	}

	now := time.Now()
	var retry []uint16
	round := 0
	for i := 0; i < l.total; i++ {
		idx := uint16(i)
		if l.seen[idx] {
			continue
		}
		slot := l.missing.note(idx, now)
		if slot.Attempts >= s.cfg.MaxRetries {
			continue
		}
		slot.Attempts++
		round = max(round, slot.Attempts)
		retry = append(retry, idx)
	}
	if len(retry) == 0 {
		gone := l.missing.abandoned(s.cfg.MaxRetries)
		for _, slot := range gone {
			s.logger.Warn().Uint16("index", slot.Index).Int("attempts", slot.Attempts).
				Dur("missing_for", now.Sub(slot.MissingSince)).Msg("parameter slot abandoned")
		}
		s.finishLoad(fmt.Sprintf("%d of %d parameters missing after %d retries (%s)",
			l.total-len(l.seen), l.total, s.cfg.MaxRetries, describeSlots(gone)))
		return
	}
	s.logger.Debug().Int("missing", len(retry)).Int("round", round).Msg("re-requesting missing parameters")
	l.batching = true
	s.disarm()
	go s.rerequest(l.ctx, l.seq, retry, round)
}

// rerequest is the short-lived task sending one round of PARAM_REQUEST_READ.
func (s *Synchronizer) rerequest(ctx context.Context, seq uint64, indices []uint16, round int) {
	sys, comp := s.conn.Target()
	gap := session.NextBackoffDelay(s.cfg.RetryPacing, round, nil)
	sent := 0
	for i, idx := range indices {
		if i > 0 && !session.Sleep(ctx.Done(), gap) {
			break
		}
		msg := &dialect.ParamRequestRead{ParamIndex: int16(idx), TargetSystem: sys, TargetComponent: comp}
		if err := s.conn.Send(ctx, msg); err != nil {
			s.logger.Debug().Err(err).Uint16("index", idx).Msg("re-request")
			break
		}
		sent++
	}
	observability.RecordParamRerequests(sent)
	s.post(func() {
		if s.load == nil || s.load.seq != seq {
			return
		}
		s.load.batching = false
		s.armLoadTimer()
	})
}

func (s *Synchronizer) sendList(ctx context.Context) error {
	sys, comp := s.conn.Target()
	return s.conn.Send(ctx, &dialect.ParamRequestList{TargetSystem: sys, TargetComponent: comp})
}

func (s *Synchronizer) startLoad(wait chan loadOutcome) *loadState {
	s.loadSeq++
	ctx, cancel := context.WithCancel(context.Background())
	l := &loadState{
		seq:     s.loadSeq,
		started: time.Now(),
		seen:    make(map[uint16]bool),
		names:   make(map[string]bool),
		missing: slotTracker{},
		ctx:     ctx,
		cancel:  cancel,
		waiters: []chan loadOutcome{wait},
	}
	s.load = l
	s.setProgress(Progress{})
	s.arm(s.cfg.QuiescenceTimeout)
	s.logger.Info().Uint64("load", l.seq).Msg("requesting parameter table")
	return l
}

func (s *Synchronizer) finishLoad(errMsg string) {
	l := s.load
	s.load = nil
	s.disarm()
	l.cancel()

	s.mu.Lock()
	for name := range s.table {
		if !l.names[name] {
			delete(s.table, name)
			delete(s.edits, name)
		}
	}
	s.mu.Unlock()

	p := Progress{Current: len(l.seen), Total: l.total, Complete: true, ErrorMessage: errMsg}
	s.setProgress(p)
	s.publishTable()
	observability.ObserveSyncDuration(time.Since(l.started), errMsg == "")
	event := s.logger.Info()
	if errMsg != "" {
		event = s.logger.Warn().Str("error", errMsg)
	}
	event.Int("current", p.Current).Int("total", p.Total).Dur("took", time.Since(l.started)).Msg("parameter load finished")
	for _, w := range l.waiters {
		w <- loadOutcome{progress: p}
	}
}

func (s *Synchronizer) abortLoad(err error) {
	l := s.load
	s.load = nil
	s.disarm()
	l.cancel()
	p := Progress{Current: len(l.seen), Total: l.total, ErrorMessage: err.Error()}
	s.setProgress(p)
	s.logger.Warn().Err(err).Msg("parameter load aborted")
	for _, w := range l.waiters {
		w <- loadOutcome{progress: p, err: err}
	}
}

func (s *Synchronizer) setProgress(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	s.progressB.Publish(p)
}

func (s *Synchronizer) publishTable() {
	s.tableB.Publish(s.Snapshot())
	s.tableDirty = false
}

// RequestAll loads the whole table. Without force, a cleanly completed
// cache is returned without traffic. Concurrent callers share one load.
// A partial load is reported in Progress.ErrorMessage, not as an error.
func (s *Synchronizer) RequestAll(ctx context.Context, force bool) (Progress, error) {
	var (
		ready   bool
		cached  Progress
		wait    chan loadOutcome
		started *loadState
	)
	err := s.exec(ctx, func() {
		if s.load != nil {
			wait = make(chan loadOutcome, 1)
			s.load.waiters = append(s.load.waiters, wait)
			return
		}
		s.mu.RLock()
		cached = s.progress
		n := len(s.table)
		s.mu.RUnlock()
		if !force && cached.Complete && cached.ErrorMessage == "" && n > 0 {
			ready = true
			return
		}
		wait = make(chan loadOutcome, 1)
		started = s.startLoad(wait)
	})
	if err != nil {
		return s.Progress(), err
	}
	if ready {
		return cached, nil
	}
	if started != nil {
		if err := s.sendList(started.ctx); err != nil {
			s.post(func() {
				if s.load == started {
					s.abortLoad(err)
				}
			})
		}
	}
	select {
	case out := <-wait:
		return out.progress, out.err
	case <-ctx.Done():
		return s.Progress(), ctx.Err()
	case <-s.done:
		return s.Progress(), ErrClosed
	}
}

// Cleanup stops the loop and fails outstanding requests. The session is
// left open.
func (s *Synchronizer) Cleanup() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.exited
	})
}

// Get is a cache lookup; it never sends.
func (s *Synchronizer) Get(name string) (Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.table[name]
	return p, ok
}

// Snapshot copies the cache.
func (s *Synchronizer) Snapshot() map[string]Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Parameter, len(s.table))
	for k, v := range s.table {
		out[k] = v
	}
	return out
}

// List returns the cache sorted by name.
func (s *Synchronizer) List() []Parameter {
	snap := s.Snapshot()
	return Sorted(snap)
}

// Sorted orders a snapshot by name.
func Sorted(snap map[string]Parameter) []Parameter {
	out := make([]Parameter, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Synchronizer) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// WatchTable subscribes to table snapshots; the latest is replayed.
func (s *Synchronizer) WatchTable() (<-chan map[string]Parameter, func()) {
	return s.tableB.Subscribe()
}

// WatchProgress subscribes to load progress; the latest is replayed.
func (s *Synchronizer) WatchProgress() (<-chan Progress, func()) {
	return s.progressB.Subscribe()
}
