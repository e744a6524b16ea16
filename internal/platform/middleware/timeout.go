package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a deadline on each request context. The handler runs on
// the request goroutine, so panics still reach Recovery and the context is
// never shared with a second goroutine. Once the deadline passes, whatever the
// handler has not yet sent is discarded and the client receives a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			dw := &deadlineWriter{ResponseWriter: orig, ctx: ctx}
			res.Writer = dw
			// Restored on panic too, so Recovery's 500 is not swallowed.
			defer func() { res.Writer = orig }()

			err := next(c)
			res.Writer = orig

			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || dw.sent {
				return err
			}
			// The handler either never wrote or wrote after the deadline.
			res.Committed = false
			res.Status = http.StatusOK
			res.Size = 0
			return Fail(c, http.StatusGatewayTimeout, "Request processing exceeded the allowed time limit")
		}
	}
}

// deadlineWriter passes writes through until ctx expires. A response whose
// header went out before the deadline is allowed to finish.
type deadlineWriter struct {
	http.ResponseWriter
	ctx  context.Context
	sent bool
}

func (w *deadlineWriter) expired() bool {
	return !w.sent && w.ctx.Err() != nil
}

func (w *deadlineWriter) WriteHeader(code int) {
	if w.expired() {
		return
	}
	w.sent = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *deadlineWriter) Write(b []byte) (int, error) {
	if w.expired() {
		return 0, http.ErrHandlerTimeout
	}
	w.sent = true
	return w.ResponseWriter.Write(b)
}

func (w *deadlineWriter) Flush() {
	if w.expired() {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *deadlineWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
