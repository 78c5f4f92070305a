// main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"council/internal/backend"
	"council/internal/config"
	"council/internal/conversations"
	"council/internal/council"
	"council/internal/logging"
)

// app bundles the process-wide dependencies shared by all handlers.
type app struct {
	settings config.Settings
	cfg      *config.Store
	client   backend.Client
	engine   *council.Engine
	convs    *conversations.Store
}

func main() {
	// Load .env if present; do not hard-fail if missing (env vars may
	// already be set).
	_ = godotenv.Load()

	settings := config.LoadSettings()
	client := backend.New(settings)
	cfgStore := config.NewStore(settings, client.ListModels)

	cfg := cfgStore.Get()
	logging.Log.WithFields(map[string]interface{}{
		"backend_mode":   cfg.BackendMode,
		"base_url":       cfg.BackendBaseURL,
		"council_models": cfg.CouncilModels,
		"chairman":       cfg.ChairmanModel,
		"db_storage":     settings.DBStorageEnabled,
	}).Info("llm council starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var convs *conversations.Store
	if settings.DBStorageEnabled {
		pool, err := conversations.NewPool(ctx, settings)
		if err != nil {
			logging.Log.WithError(err).Warn("postgres unavailable, conversation storage disabled")
		} else {
			convs = conversations.NewStore(pool)
			if err := convs.Init(ctx); err != nil {
				logging.Log.WithError(err).Warn("conversation schema init failed, storage disabled")
				pool.Close()
				convs = nil
			}
		}
	}

	engine := &council.Engine{
		Client:   client,
		Snapshot: cfgStore.Get,
		Timeout:  settings.ModelTimeout,
	}

	a := &app{
		settings: settings,
		cfg:      cfgStore,
		client:   client,
		engine:   engine,
		convs:    convs,
	}

	// Keep model weights resident so the first request does not pay
	// cold-start latency.
	go func() {
		models := append(append([]string(nil), cfg.CouncilModels...), cfg.ChairmanModel)
		backend.Warm(ctx, client, models)
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     settings.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	registerRoutes(e, a)

	go func() {
		addr := fmt.Sprintf(":%d", settings.Port)
		logging.Log.WithField("addr", addr).Info("http server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logging.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.Log.WithError(err).Error("shutdown failed")
	}
}

// errorHandler shapes every uncaught error into the standard envelope
// with internal details kept server-side.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "An internal error occurred"
	errType := "internal_error"
	code := "server_error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		errType = "http_exception"
		code = fmt.Sprintf("http_%d", status)
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	} else {
		logging.Log.WithError(err).Error("unhandled error")
	}

	_ = c.JSON(status, ErrorResponse{Error: ErrorData{Message: msg, Type: errType, Code: code}})
}
