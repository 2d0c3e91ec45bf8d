package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/medley/internal/db"
	"horse.fit/medley/internal/globaltime"
	"horse.fit/medley/internal/ingest"
	"horse.fit/medley/schema"
)

const (
	defaultRunsLimit = 25
	maxRunsLimit     = 200
	maxPayloadBytes  = 32 << 20
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool   *db.Pool
	engine *ingest.Engine
	logger zerolog.Logger
	opts   Options
}

type runListItem struct {
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Actor      string     `json:"actor"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Created    int        `json:"created"`
	Merged     int        `json:"merged"`
	Collapsed  int        `json:"collapsed"`
	Unchanged  int        `json:"unchanged"`
	Conflicts  int        `json:"conflicts"`
	Skipped    int        `json:"skipped"`
}

func NewServer(pool *db.Pool, engine *ingest.Engine, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		engine: engine,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil || s.engine == nil {
		return fmt.Errorf("server is not initialized")
	}

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

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/v1")
	api.POST("/batches", s.handleBatch)
	api.GET("/runs", s.handleRuns)

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

	s.logger.Info().Str("addr", addr).Msg("medley api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("medley api server stopped")
	return nil
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
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return fail(c, http.StatusServiceUnavailable, "database unreachable", nil)
	}
	return success(c, map[string]any{
		"service": "medley",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleBatch(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return fail(c, http.StatusBadRequest, "read request body", nil)
	}

	payload, err := batchschema.ValidateBatchPayload(body)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}

	graph, err := ingest.BuildGraph(payload)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}

	result, err := s.engine.ProcessBatch(c.Request().Context(), graph)
	if err != nil {
		var integrityErr *ingest.GraphIntegrityError
		if errors.As(err, &integrityErr) {
			return fail(c, http.StatusUnprocessableEntity, integrityErr.Error(), nil)
		}
		s.logger.Error().Err(err).Str("source", payload.Source).Msg("batch processing failed")
		return internalError(c, "Batch processing failed")
	}

	return successWithStatus(c, http.StatusCreated, result)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fail(c, http.StatusBadRequest, "limit must be a positive integer", nil)
		}
		limit = min(parsed, maxRunsLimit)
	}

	var rows []db.IngestRunRow
	err := s.pool.GORM().WithContext(c.Request().Context()).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("query ingest runs failed")
		return internalError(c, "Failed to load runs")
	}

	items := make([]runListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, runListItem{
			RunID:      row.RunID,
			Source:     row.Source,
			Actor:      row.Actor,
			Status:     row.Status,
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
			Processed:  row.Processed,
			Created:    row.Created,
			Merged:     row.Merged,
			Collapsed:  row.Collapsed,
			Unchanged:  row.Unchanged,
			Conflicts:  row.Conflicts,
			Skipped:    row.Skipped,
		})
	}
	return success(c, map[string]any{
		"runs": items,
	})
}
