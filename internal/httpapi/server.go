// Package httpapi поднимает HTTP-сервер: webhook платёжного провайдера и проверки здоровья.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// ReadyCheck — проверка зависимости для /readyz.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Stripe  *StripeWebhook
	Checks  map[string]ReadyCheck
	Log     zerolog.Logger
	Timeout time.Duration
}

func New(d Deps) *echo.Echo {
	if d.Timeout <= 0 {
		d.Timeout = 2 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(recovery(d.Log))
	e.Use(echomw.RequestID())
	e.Use(accessLog(d.Log))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", readiness(d.Checks, d.Timeout))

	if d.Stripe != nil {
		e.POST("/webhooks/stripe", d.Stripe.Handle)
	}
	return e
}

func readiness(checks map[string]ReadyCheck, timeout time.Duration) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		result := make(map[string]string, len(names))
		code := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				result[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		return c.JSON(code, result)
	}
}

func accessLog(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}

func recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					logger.Error().
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
