package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/stalegate/stalegate/internal/metrics"
)

// ProxyHandler describes the component responsible for proxying requests to
// the backend. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Proxy      ProxyHandler
	ListenPort int
	// CORSOrigins enables the CORS middleware (with credentials) when non-empty.
	CORSOrigins []string
	// MaxInFlight caps concurrently proxied requests; 0 means unlimited.
	MaxInFlight   int
	EnableMetrics bool
}

const contextKeyRequestID = "_stalegate_request_id"

// NewApp builds a Fiber application with the gateway middleware chain and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.MaxInFlight < 0 {
		return nil, fmt.Errorf("invalid max in-flight: %d", opts.MaxInFlight)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	if opts.EnableMetrics {
		app.Use(metricsMiddleware())
	}
	if len(opts.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowCredentials: true,
		}))
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.EnableMetrics {
		app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	admit := newAdmission(opts.MaxInFlight)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(c.Path()) {
			return WriteError(c, fiber.StatusNotFound, "not_found", "unknown diagnostics path")
		}
		release, ok := admit()
		if !ok {
			metrics.IncRejected()
			opts.Logger.WithFields(logrus.Fields{
				"action":     "admission",
				"method":     c.Method(),
				"url":        c.OriginalURL(),
				"request_id": RequestID(c),
				"limit":      opts.MaxInFlight,
			}).Warn("request rejected")
			return WriteError(c, fiber.StatusServiceUnavailable, "overloaded", "too many in-flight requests")
		}
		defer release()
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// newAdmission returns a non-blocking acquire function; limit 0 admits everything.
func newAdmission(limit int) func() (func(), bool) {
	if limit <= 0 {
		return func() (func(), bool) { return func() {}, true }
	}
	sem := semaphore.NewWeighted(int64(limit))
	return func() (func(), bool) {
		if !sem.TryAcquire(1) {
			return nil, false
		}
		return func() { sem.Release(1) }, true
	}
}

// requestIDMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func metricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		if !isDiagnosticsPath(c.Path()) {
			code := strconv.Itoa(c.Response().StatusCode())
			metrics.ObserveRequest(c.Method(), code, time.Since(started))
		}
		return err
	}
}

// WriteError renders the gateway's JSON error envelope.
func WriteError(c fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "ERROR",
		"error": fiber.Map{
			"kind":    kind,
			"message": message,
		},
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
