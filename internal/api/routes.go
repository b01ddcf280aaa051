package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "groundctl",
			"version": "0.1.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, viewState(s.session.State()))
	})
	r.POST("/connect", s.handleConnect)
	r.POST("/disconnect", func(c *gin.Context) {
		s.session.Disconnect()
		c.JSON(http.StatusOK, viewState(s.session.State()))
	})

	r.GET("/progress", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.params.Progress())
	})
	r.GET("/params", s.handleList)
	r.POST("/params/refresh", s.handleRefresh)
	r.GET("/params/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": s.params.Pending()})
	})
	r.DELETE("/params/pending", func(c *gin.Context) {
		if err := s.params.DiscardAll(); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": s.params.Pending()})
	})
	r.POST("/params/save", s.handleSave)
	r.GET("/params/:name", func(c *gin.Context) {
		p, ok := s.params.Get(c.Param("name"))
		if !ok {
			abort(c, fmt.Errorf("%w: %s", params.ErrUnknownParam, c.Param("name")))
			return
		}
		c.JSON(http.StatusOK, p)
	})
	r.PUT("/params/:name", s.handleSet)
	r.POST("/params/:name/edit", s.handleEdit)
	r.DELETE("/params/:name/edit", func(c *gin.Context) {
		if err := s.params.Discard(c.Param("name")); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.GET("/vehicle/servos", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"servos": s.vehicle.Servos()})
	})
	r.GET("/vehicle/serial", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ports": s.vehicle.SerialPorts()})
	})
	r.GET("/vehicle/frame", func(c *gin.Context) {
		f, ok := s.vehicle.Frame()
		if !ok {
			abort(c, fmt.Errorf("%w: FRAME_CLASS", params.ErrUnknownParam))
			return
		}
		c.JSON(http.StatusOK, f)
	})

	snaps := r.Group("/snapshots")
	snaps.GET("", s.handleSnapshots)
	snaps.POST("", s.handleSnapshotSave)
	snaps.GET("/:id", s.handleSnapshotLoad)
	snaps.GET("/:id/diff", s.handleSnapshotDiff)
	snaps.DELETE("/:id", s.handleSnapshotDelete)
}

func (s *Server) timeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
}

func (s *Server) handleConnect(c *gin.Context) {
	cfg := s.opts.Link
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()
	if err := s.session.Connect(ctx, cfg); err != nil {
		s.logger.Warn().Err(err).Str("transport", string(cfg.Kind)).Msg("connect failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "state": viewState(s.session.State())})
		return
	}
	c.JSON(http.StatusOK, viewState(s.session.State()))
}

func (s *Server) handleList(c *gin.Context) {
	list := s.params.List()
	if group := strings.ToUpper(c.Query("group")); group != "" {
		filtered := list[:0]
		for _, p := range list {
			if p.Group == group {
				filtered = append(filtered, p)
			}
		}
		list = filtered
	}
	c.JSON(http.StatusOK, gin.H{"params": list, "progress": s.params.Progress()})
}

func (s *Server) handleRefresh(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	ctx, cancel := s.timeout(c)
	defer cancel()
	p, err := s.params.RequestAll(ctx, force)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "progress": p})
		return
	}
	c.JSON(http.StatusOK, p)
}

func bindSet(c *gin.Context) (setRequest, bool) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleSet(c *gin.Context) {
	name := c.Param("name")
	req, ok := bindSet(c)
	if !ok {
		return
	}
	var typ dialect.ParamType
	if req.Type != nil {
		typ = *req.Type
	} else if p, ok := s.params.Get(name); ok {
		typ = p.Type
	} else {
		abort(c, fmt.Errorf("%w: %s: type is required for uncached parameters", params.ErrUnknownParam, name))
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()
	res := s.params.Set(ctx, name, *req.Value, typ)
	view := viewResults([]params.Result{res})[0]
	if res.Err != nil {
		c.JSON(statusFor(res.Err), view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleEdit(c *gin.Context) {
	req, ok := bindSet(c)
	if !ok {
		return
	}
	if err := s.params.Edit(c.Param("name"), *req.Value); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": s.params.Pending()})
}

func (s *Server) handleSave(c *gin.Context) {
	ctx, cancel := s.timeout(c)
	defer cancel()
	results := s.params.SavePending(ctx)
	status := http.StatusOK
	for _, r := range results {
		if r.Err != nil {
			status = http.StatusMultiStatus
			break
		}
	}
	c.JSON(status, gin.H{"results": viewResults(results), "pending": s.params.Pending()})
}

func (s *Server) snapshotStore(c *gin.Context) (*store.DB, bool) {
	if s.opts.Store == nil {
		abort(c, ErrStoreDisabled)
		return nil, false
	}
	return s.opts.Store, true
}

func snapshotID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleSnapshots(c *gin.Context) {
	db, ok := s.snapshotStore(c)
	if !ok {
		return
	}
	list, err := db.List(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list})
}

func (s *Server) handleSnapshotSave(c *gin.Context) {
	db, ok := s.snapshotStore(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := s.params.Progress()
	if err := p.Err(); err != nil {
		abort(c, fmt.Errorf("snapshot of a partial table: %w", err))
		return
	}
	if !p.Complete || p.Total == 0 {
		abort(c, fmt.Errorf("%w: load the table before saving a snapshot", params.ErrSyncIncomplete))
		return
	}
	snap, err := db.Save(c.Request.Context(), req.Name, s.session.State().Target, s.params.List())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) handleSnapshotLoad(c *gin.Context) {
	db, ok := s.snapshotStore(c)
	if !ok {
		return
	}
	id, ok := snapshotID(c)
	if !ok {
		return
	}
	snap, err := db.Load(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleSnapshotDiff(c *gin.Context) {
	db, ok := s.snapshotStore(c)
	if !ok {
		return
	}
	id, ok := snapshotID(c)
	if !ok {
		return
	}
	changes, err := db.Diff(c.Request.Context(), id, s.params.Snapshot())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (s *Server) handleSnapshotDelete(c *gin.Context) {
	db, ok := s.snapshotStore(c)
	if !ok {
		return
	}
	id, ok := snapshotID(c)
	if !ok {
		return
	}
	if err := db.Delete(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
