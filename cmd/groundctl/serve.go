package main

import (
	"context"

	"github.com/danmuck/groundctl/internal/api"
	"github.com/danmuck/groundctl/internal/auth"
	"github.com/danmuck/groundctl/internal/config"
	"github.com/danmuck/groundctl/internal/logging"
	"github.com/danmuck/groundctl/internal/store"
)

// runServe starts the API and attempts one connect in the background; a
// failed attempt is logged and POST /connect can retry.
func runServe(ctx context.Context, cfg config.Config) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	var db *store.DB
	if cfg.Store.Enabled {
		if db, err = store.Open(cfg.Store.Path); err != nil {
			return err
		}
		defer db.Close()
	}

	logger := logging.Component("api")
	opts := api.Options{
		Addr:           cfg.API.Addr,
		CORSOrigins:    cfg.API.CORSOrigins,
		Link:           cfg.Link,
		RequestTimeout: cfg.API.RequestTimeout,
		Store:          db,
		Logger:         logger,
	}
	if cfg.API.Token != "" {
		opts.Auth = auth.StaticToken{Token: cfg.API.Token}
	}
	srv := api.New(c.session, c.sync, opts)

	go func() {
		if err := c.session.Connect(ctx, cfg.Link); err != nil {
			logger.Warn().Err(err).Str("target", cfg.Link.Target()).Msg("initial connect failed")
			return
		}
		if _, err := c.load(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("initial parameter load failed")
		}
	}()

	logger.Info().Bool("store", db != nil).Bool("auth", opts.Auth != nil).Msg("starting api")
	return srv.Serve(ctx)
}
