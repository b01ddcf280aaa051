package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/observability"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/protocol/frame"
	"github.com/danmuck/groundctl/internal/pubsub"
	"github.com/rs/zerolog"
)

// Session owns at most one Link. Connect and Disconnect are serialized;
// everything else may be called concurrently.
type Session struct {
	provider link.Provider
	cfg      Config
	logger   zerolog.Logger

	opMu sync.Mutex

	mu     sync.Mutex
	link   link.Link
	gen    uint64
	cancel context.CancelFunc
	tasks  *sync.WaitGroup
	phase  Phase
	closed bool

	// opening is the link inside Open, so Disconnect can abort it without
	// waiting for opMu.
	opening    link.Link
	cancelOpen context.CancelFunc

	lastHeartbeat atomic.Int64

	states *pubsub.Broadcast[State]
	frames *pubsub.Broadcast[frame.Frame]
}

func New(provider link.Provider, cfg Config, logger zerolog.Logger) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "session").Logger(),
		states:   pubsub.New[State](cfg.StateBuffer, true).OnDrop(observability.StreamDrops("session_state")),
		frames:   pubsub.New[frame.Frame](cfg.FrameBuffer, true).OnDrop(observability.StreamDrops("session_frames")),
	}
	s.states.Publish(State{Phase: Disconnected, Since: time.Now()})
	return s
}

func (s *Session) Config() Config { return s.cfg }

// Connect tears down any current link, then opens a new one from cfg.
func (s *Session) Connect(ctx context.Context, cfg link.Config) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	base := State{Transport: cfg.Kind, Target: cfg.Target()}
	s.publishLocked(withPhase(base, Connecting, nil))
	s.mu.Unlock()

	l, err := s.provider.CreateLink(cfg)
	if err != nil {
		err = &link.ConnectError{Transport: cfg.Kind, Target: cfg.Target(), Err: err}
		s.fail(gen, base, err)
		return err
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		cancelOpen()
		_ = l.Close()
		return ErrClosed
	}
	s.opening, s.cancelOpen = l, cancelOpen
	s.mu.Unlock()

	err = l.Open(openCtx)
	cancelOpen()

	s.mu.Lock()
	aborted := gen != s.gen
	if s.opening == l {
		s.opening, s.cancelOpen = nil, nil
	}
	s.mu.Unlock()
	if err != nil {
		_ = l.Close()
		if aborted {
			s.logger.Debug().Err(err).Msg("open aborted")
			return ErrClosed
		}
		s.fail(gen, base, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	tasks := &sync.WaitGroup{}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		cancel()
		_ = l.Close()
		return ErrClosed
	}
	s.link = l
	s.cancel = cancel
	s.tasks = tasks
	s.lastHeartbeat.Store(time.Now().UnixNano())
	s.publishLocked(withPhase(base, Connected, nil))
	s.mu.Unlock()

	s.logger.Info().Str("transport", string(cfg.Kind)).Str("target", cfg.Target()).Msg("connected")

	tasks.Add(1)
	go s.readLoop(runCtx, tasks, gen, base, l)
	if s.cfg.HeartbeatInterval > 0 {
		tasks.Add(1)
		go s.heartbeatLoop(runCtx, tasks)
	}
	if s.cfg.HeartbeatTimeout > 0 {
		tasks.Add(1)
		go s.watchdog(runCtx, tasks, gen, base)
	}
	return nil
}

// Disconnect closes the link, stops the tasks and publishes Disconnected.
// A Connect still inside Open is aborted first.
func (s *Session) Disconnect() {
	s.abortOpen()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.teardown()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Disconnected {
		s.publishLocked(State{Phase: Disconnected, Since: time.Now()})
	}
}

// Close disconnects and closes every subscription.
func (s *Session) Close() {
	s.Disconnect()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.states.Close()
	s.frames.Close()
}

// abortOpen invalidates an in-flight Connect and unblocks its Open.
func (s *Session) abortOpen() {
	s.mu.Lock()
	l, cancel := s.opening, s.cancelOpen
	s.opening, s.cancelOpen = nil, nil
	if l != nil {
		s.gen++
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l != nil {
		_ = l.Close()
	}
}

// teardown invalidates the current generation and waits for its tasks.
func (s *Session) teardown() {
	s.mu.Lock()
	s.gen++
	l, cancel, tasks := s.link, s.cancel, s.tasks
	s.link, s.cancel, s.tasks = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l != nil {
		if err := l.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close link")
		}
	}
	if tasks != nil {
		tasks.Wait()
	}
}

// fail publishes Failed for gen and releases its link. Stale generations
// are ignored so a torn down read task cannot clobber a newer connection.
func (s *Session) fail(gen uint64, base State, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	l, cancel := s.link, s.cancel
	s.link, s.cancel = nil, nil
	s.publishLocked(withPhase(base, Failed, err))
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("session failed")
	if cancel != nil {
		cancel()
	}
	if l != nil {
		_ = l.Close()
	}
}

func (s *Session) verify(gen uint64, base State, f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.phase != Connected {
		return
	}
	st := withPhase(base, HeartbeatVerified, nil)
	st.SystemID = f.SystemID
	st.ComponentID = f.ComponentID
	s.publishLocked(st)
	s.logger.Info().Uint8("system", f.SystemID).Uint8("component", f.ComponentID).Msg("heartbeat verified")
}

func (s *Session) publishLocked(st State) {
	s.phase = st.Phase
	s.states.Publish(st)
	observability.RecordStateTransition(st.Phase.String())
}

func withPhase(base State, phase Phase, err error) State {
	base.Phase = phase
	base.Err = err
	base.Since = time.Now()
	return base
}

func (s *Session) readLoop(ctx context.Context, tasks *sync.WaitGroup, gen uint64, base State, l link.Link) {
	defer tasks.Done()
	for {
		f, err := l.ReceiveNext()
		if err != nil {
			if ctx.Err() == nil {
				s.fail(gen, base, err)
			}
			return
		}
		if f.SystemID == s.cfg.SystemID && f.ComponentID == s.cfg.ComponentID {
			continue
		}
		if _, ok := f.Message.(*dialect.Heartbeat); ok {
			s.lastHeartbeat.Store(time.Now().UnixNano())
			s.verify(gen, base, f)
		}
		s.frames.Publish(f)
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, tasks *sync.WaitGroup) {
	defer tasks.Done()
	hb := &dialect.Heartbeat{
		Type:           dialect.MavTypeGCS,
		Autopilot:      dialect.MavAutopilotInvalid,
		SystemStatus:   dialect.MavStateActive,
		MavlinkVersion: dialect.MavlinkVersion,
	}
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := s.Send(ctx, hb); err != nil && ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("send heartbeat")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) watchdog(ctx context.Context, tasks *sync.WaitGroup, gen uint64, base State) {
	defer tasks.Done()
	tick := s.cfg.HeartbeatTimeout / 4
	if tick <= 0 {
		tick = s.cfg.HeartbeatTimeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		last := time.Unix(0, s.lastHeartbeat.Load())
		if silent := time.Since(last); silent > s.cfg.HeartbeatTimeout {
			s.fail(gen, base, fmt.Errorf("%w: no heartbeat for %s", ErrProtocolTimeout, silent.Round(time.Millisecond)))
			return
		}
	}
}

// Send stamps our identity on msg and writes it with the configured signing
// mode. A transport failure fails the session.
func (s *Session) Send(ctx context.Context, msg dialect.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	l, gen := s.link, s.gen
	st, _ := s.states.Latest()
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	f := &frame.Frame{SystemID: s.cfg.SystemID, ComponentID: s.cfg.ComponentID, Message: msg}
	if err := l.Send(f, s.cfg.SigningMode); err != nil {
		if link.IsLinkError(err) {
			s.fail(gen, State{Transport: st.Transport, Target: st.Target}, err)
		}
		return err
	}
	return nil
}

// State returns the latest published state.
func (s *Session) State() State {
	st, _ := s.states.Latest()
	return st
}

// Target returns the remote ids learned from its heartbeat. Before
// verification both are zero, the broadcast address.
func (s *Session) Target() (system, component uint8) {
	st := s.State()
	if st.Phase != HeartbeatVerified {
		return 0, 0
	}
	return st.SystemID, st.ComponentID
}

// WatchState subscribes to state changes. The current state is delivered
// first.
func (s *Session) WatchState() (<-chan State, func()) {
	return s.states.Subscribe()
}

// WatchFrames subscribes to inbound frames from the remote.
func (s *Session) WatchFrames() (<-chan frame.Frame, func()) {
	return s.frames.Subscribe()
}
