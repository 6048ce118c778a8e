package devserver

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs every request with zerolog. Client errors are logged at
// warn level, server errors at error level.
func RequestLogger(logger ...zerolog.Logger) fiber.Handler {
	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				status = e.Code
			}
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = l.Error().Err(err)
		case status >= 400:
			event = l.Warn()
		default:
			event = l.Debug()
		}

		event.
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("response_bytes", len(c.Response().Body())).
			Msg("HTTP request")

		return err
	}
}
