// Package api serves the treasury operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/metrics"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
)

// Treasury is the operation set the API exposes.
type Treasury interface {
	MintTo(ctx context.Context, walletAddr, tokenURI string) (*treasury.MintResult, error)
	GrantReward(ctx context.Context, walletAddr, amount string) (*treasury.GrantResult, error)
	TokenInfo(ctx context.Context, tokenID *big.Int) (*treasury.TokenInfo, error)
}

// HealthChecker reports whether the chain node is reachable.
type HealthChecker interface {
	Connected(ctx context.Context) bool
}

// Config holds the listener and labels shown by /healthz.
type Config struct {
	Host     string
	Port     int
	Network  string
	Contract string

	// OperationTimeout bounds one write, independent of the client connection
	OperationTimeout time.Duration

	// HealthTimeout bounds the liveness probe behind /healthz
	HealthTimeout time.Duration
}

// Server is the HTTP surface. It implements actions.Action so it can run
// under the agent next to the bot.
type Server struct {
	config   Config
	treasury Treasury
	health   HealthChecker
	events   *audit.Log
	metrics  *metrics.Metrics
	log      *logrus.Logger
	handler  http.Handler

	mu  sync.Mutex
	srv *http.Server
}

// NewServer builds the router. metrics may be nil.
func NewServer(config Config, t Treasury, health HealthChecker, events *audit.Log, m *metrics.Metrics, log *logrus.Logger) *Server {
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 10 * time.Minute
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}

	s := &Server{
		config:   config,
		treasury: t,
		health:   health,
		events:   events,
		metrics:  m,
		log:      log,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(s.observeRoute)

	router.HandleFunc("/healthz", s.GetHealth).Methods(http.MethodGet)

	chainRouter := router.PathPrefix("/v1/chain").Subrouter()
	chainRouter.HandleFunc("/mint-demo", s.PostMint).Methods(http.MethodPost)
	chainRouter.HandleFunc("/grant-sela", s.PostGrant).Methods(http.MethodPost)
	chainRouter.HandleFunc("/token/{id}", s.GetToken).Methods(http.MethodGet)

	router.HandleFunc("/v1/events", s.GetEvents).Methods(http.MethodGet)

	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.HandlerFunc(s.logRequest))
	n.UseHandler(router)
	return n
}

// Handler returns the complete middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) logRequest(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(rw, r)

	status := 0
	if res, ok := rw.(negroni.ResponseWriter); ok {
		status = res.Status()
	}
	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   status,
		"duration": time.Since(start).String(),
	}).Debug("HTTP request")
}

func (s *Server) observeRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(rw, r)
		if s.metrics == nil {
			return
		}
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if res, ok := rw.(negroni.ResponseWriter); ok {
			s.metrics.ObserveRequest(route, res.Status())
		}
	})
}

// Name implements actions.Action.
func (s *Server) Name() string {
	return "http_api"
}

// Execute listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Execute(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Stop()
		return nil
	}
}

// Stop shuts the listener down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
}
