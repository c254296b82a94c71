// Package server exposes the orchestration lifecycle over HTTP: plan
// proposal, approval, cancellation, execution, and report retrieval.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/executor"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
	"github.com/fyrsmithlabs/orchestd/internal/session"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP API for orchestd.
type Server struct {
	echo    *echo.Echo
	session *session.Session
	logger  *logging.Logger
	metrics *Metrics
	config  *Config
}

// NewServer creates the HTTP server over a session.
func NewServer(sess *session.Session, logger *logging.Logger, cfg *Config) (*Server, error) {
	if sess == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8710}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		session: sess,
		logger:  logger.Named("server"),
		metrics: metrics,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/v1")
	v1.POST("/plans", s.handlePropose)
	v1.GET("/plans/:id", s.handleGet)
	v1.POST("/plans/:id/approve", s.handleApprove)
	v1.POST("/plans/:id/cancel", s.handleCancel)
	v1.POST("/plans/:id/execute", s.handleExecute)
	v1.GET("/plans/:id/report", s.handleReport)
}

// ProposeRequest is the request body for POST /v1/plans.
type ProposeRequest struct {
	Command string `json:"command"`
}

// ExecuteRequest is the request body for POST /v1/plans/:id/execute.
type ExecuteRequest struct {
	Role string `json:"role"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handlePropose(c echo.Context) error {
	var req ProposeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command field is required")
	}

	p, err := s.session.Propose(c.Request().Context(), req.Command)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleGet(c echo.Context) error {
	p, err := s.session.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleApprove(c echo.Context) error {
	if err := s.session.Approve(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancel(c echo.Context) error {
	if err := s.session.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ExecuteResponse wraps the execution result for JSON clients.
type ExecuteResponse struct {
	*executor.Result
	AuthzDenied string `json:"authz_denied,omitempty"`
}

func (s *Server) handleExecute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role field is required")
	}

	res, err := s.session.Execute(c.Request().Context(), c.Param("id"), req.Role)
	if err != nil {
		return s.mapError(err)
	}

	out := ExecuteResponse{Result: res}
	if res.AuthzError != nil {
		out.AuthzDenied = res.AuthzError.Error()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleReport(c echo.Context) error {
	res, err := s.session.Report(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// mapError translates domain errors into HTTP status codes.
func (s *Server) mapError(err error) error {
	var genErr *plan.GenerationError
	switch {
	case errors.As(err, &genErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, genErr.Error())
	case errors.Is(err, plan.ErrActivePlan):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, plan.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, plan.ErrPlanNotFound), errors.Is(err, session.ErrNoReport):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Underlying().Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Underlying().Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
