package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/trendwatch/internal/db"
	"horse.fit/trendwatch/internal/dedup"
	"horse.fit/trendwatch/internal/evidence"
	"horse.fit/trendwatch/internal/globaltime"
	"horse.fit/trendwatch/internal/relevance"
	"horse.fit/trendwatch/internal/trend"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	defaultActionLimit = 50
	maxActionLimit     = 200
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	CronSecret    string
	MinConfidence float64
	ActiveWindow  time.Duration
}

type Server struct {
	pool      *db.Pool
	logger    zerolog.Logger
	evidence  *evidence.Service
	trends    *trend.Service
	dedup     *dedup.Service
	relevance relevance.Scorer
	gatherer  prometheus.Gatherer
	opts      Options
}

func NewServer(
	pool *db.Pool,
	logger zerolog.Logger,
	evidenceSvc *evidence.Service,
	trendSvc *trend.Service,
	dedupSvc *dedup.Service,
	scorer relevance.Scorer,
	gatherer prometheus.Gatherer,
	opts Options,
) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 48 * time.Hour
	}
	opts.Host = host

	if scorer == nil {
		scorer = relevance.Disabled{}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		pool:      pool,
		logger:    logger,
		evidence:  evidenceSvc,
		trends:    trendSvc,
		dedup:     dedupSvc,
		relevance: scorer,
		gatherer:  gatherer,
		opts:      opts,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("trendwatch api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("trendwatch api stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/trends", s.handleTrends)
	api.GET("/trends/:event_uuid", s.handleTrendDetail)
	api.GET("/actions", s.handleActions)
	api.GET("/executions", s.handleExecutions)
	api.GET("/jobs", s.handleJobs)
	api.POST("/evidence", s.handleIngest)

	internal := e.Group("/internal/jobs", cronSecretMiddleware(s.opts.CronSecret))
	internal.POST("/aggregate", s.handleJobAggregate)
	internal.POST("/dedup", s.handleJobDedup)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "trendwatch",
		"time":    globaltime.UTC(),
	})
}
