package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"RegimeDesk/pkg/logger"
)

// RequestLogging logs each request at debug level, and at warn when it
// failed server-side or took longer than slow.
func RequestLogging(l *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler set the final status before it is logged
				c.Error(err)
				err = nil
			}

			took := time.Since(start)
			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.Int("status", status),
				logger.Duration("latency", took),
				logger.String("request_id", requestID(c)),
				logger.String("remote", c.RealIP()),
			}
			if status >= 500 || (slow > 0 && took > slow) {
				l.Warn("http request", fields...)
				return err
			}
			l.Debug("http request", fields...)
			return err
		}
	}
}
