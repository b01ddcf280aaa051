// Package api serves the local control surface over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danmuck/groundctl/internal/auth"
	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/observability"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/danmuck/groundctl/internal/store"
	"github.com/danmuck/groundctl/internal/vehicle"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Session is the connection surface the API drives.
type Session interface {
	State() session.State
	Connect(ctx context.Context, cfg link.Config) error
	Disconnect()
}

// Params is the synchronizer surface the API drives.
type Params interface {
	vehicle.Source
	Get(name string) (params.Parameter, bool)
	List() []params.Parameter
	Progress() params.Progress
	RequestAll(ctx context.Context, force bool) (params.Progress, error)
	Edit(name string, value float64) error
	Discard(name string) error
	DiscardAll() error
	Pending() map[string]float64
	SavePending(ctx context.Context) []params.Result
}

var (
	_ Session = (*session.Session)(nil)
	_ Params  = (*params.Synchronizer)(nil)
)

type Options struct {
	Addr        string
	CORSOrigins []string
	// Link is dialed by POST /connect when the request has no body.
	Link link.Config
	// RequestTimeout bounds refresh and write handlers.
	RequestTimeout time.Duration
	// Store enables the /snapshots routes when non-nil.
	Store *store.DB
	// Auth guards every non-GET route when non-nil.
	Auth   auth.Validator
	Logger zerolog.Logger
}

type Server struct {
	session  Session
	params   Params
	vehicle  *vehicle.Repository
	opts     Options
	logger   zerolog.Logger
	router   *gin.Engine
	appeared time.Time
}

func New(sess Session, ps Params, opts Options) *Server {
	observability.RegisterMetrics()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	logger := opts.Logger.With().Str("component", "api").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, func() observability.LinkContext {
		st := sess.State()
		return observability.LinkContext{Phase: st.Phase.String(), Transport: string(st.Transport), Target: st.Target}
	}))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if opts.Auth != nil {
		r.Use(requireToken(opts.Auth))
	}

	s := &Server{
		session:  sess,
		params:   ps,
		vehicle:  vehicle.New(ps),
		opts:     opts,
		logger:   logger,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("api listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// stateView is the JSON form of session.State.
type stateView struct {
	Phase       string    `json:"phase"`
	Reason      string    `json:"reason,omitempty"`
	Transport   link.Kind `json:"transport,omitempty"`
	Target      string    `json:"target,omitempty"`
	SystemID    uint8     `json:"system_id"`
	ComponentID uint8     `json:"component_id"`
	Since       time.Time `json:"since"`
}

func viewState(st session.State) stateView {
	return stateView{
		Phase:       st.Phase.String(),
		Reason:      st.Reason(),
		Transport:   st.Transport,
		Target:      st.Target,
		SystemID:    st.SystemID,
		ComponentID: st.ComponentID,
		Since:       st.Since,
	}
}

// resultView is the JSON form of params.Result.
type resultView struct {
	Name        string  `json:"name"`
	OK          bool    `json:"ok"`
	Value       float64 `json:"value"`
	Observed    float64 `json:"observed"`
	HasObserved bool    `json:"has_observed"`
	Attempts    int     `json:"attempts"`
	Error       string  `json:"error,omitempty"`
}

func viewResults(rs []params.Result) []resultView {
	out := make([]resultView, len(rs))
	for i, r := range rs {
		out[i] = resultView{
			Name:        r.Name,
			OK:          r.OK,
			Value:       r.Value,
			Observed:    r.Observed,
			HasObserved: r.HasObserved,
			Attempts:    r.Attempts,
			Error:       r.Message(),
		}
	}
	return out
}

type setRequest struct {
	Value *float64 `json:"value"`
	// Type defaults to the cached type.
	Type *dialect.ParamType `json:"type,omitempty"`
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
