package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/groundctl/internal/config"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// client is one connected session with its synchronizer.
type client struct {
	cfg     config.Config
	session *session.Session
	sync    *params.Synchronizer
	logger  zerolog.Logger
}

func newClient(cfg config.Config) (*client, error) {
	logger := log.Logger
	provider, err := cfg.Provider(logger)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.ParamsConfig()
	if err != nil {
		return nil, err
	}
	s := session.New(provider, cfg.SessionConfig(), logger)
	return &client{cfg: cfg, session: s, sync: params.New(s, pc, logger), logger: logger}, nil
}

// dial connects and waits for the first remote heartbeat so requests carry
// the vehicle's ids. Without a heartbeat inside the timeout requests are
// broadcast.
func dial(ctx context.Context, cfg config.Config) (*client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.session.Connect(ctx, cfg.Link); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.awaitHeartbeat(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) awaitHeartbeat(ctx context.Context) error {
	wait := c.cfg.Session.HeartbeatTimeout
	if wait <= 0 {
		wait = 2 * time.Second
	}
	states, cancel := c.session.WatchState()
	defer cancel()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return session.ErrClosed
			}
			switch st.Phase {
			case session.HeartbeatVerified:
				c.logger.Info().Uint8("system", st.SystemID).Uint8("component", st.ComponentID).Msg("vehicle heartbeat")
				return nil
			case session.Failed, session.Disconnected:
				if st.Err != nil {
					return fmt.Errorf("%w: %v", session.ErrNotConnected, st.Err)
				}
				return session.ErrNotConnected
			}
		case <-timer.C:
			c.logger.Warn().Dur("waited", wait).Msg("no heartbeat yet, addressing requests to all systems")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// load fills the cache, reporting a partial table to the log only.
func (c *client) load(ctx context.Context, force bool) (params.Progress, error) {
	p, err := c.sync.RequestAll(ctx, force)
	if err != nil {
		return p, err
	}
	if perr := p.Err(); perr != nil {
		c.logger.Warn().Err(perr).Int("current", p.Current).Int("total", p.Total).Msg("partial parameter table")
	}
	return p, nil
}

func (c *client) Close() {
	c.sync.Cleanup()
	c.session.Close()
}
