// Package recovery converts handler panics into 500 responses.
package recovery

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"syscall"

	"go.uber.org/zap"

	routederr "github.com/routed/routed/errors"
	"github.com/routed/routed/logging"
	"github.com/routed/routed/router"
)

// Config configures the recovery middleware.
type Config struct {
	// PrintStack includes the stack trace in the log entry.
	PrintStack bool
	// LogFunc is called with the recovered value and stack.
	LogFunc func(err any, stack []byte)
}

// DefaultConfig logs through the global logger with stacks enabled.
var DefaultConfig = Config{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(err any, stack []byte) {
	logging.Error("panic recovered",
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Middleware creates a recovery middleware with default settings.
func Middleware() router.HandlerFunc {
	return MiddlewareWithConfig(DefaultConfig)
}

// MiddlewareWithConfig creates a recovery middleware. Broken-pipe panics are
// aborted silently: the peer is gone and a body would never arrive.
func MiddlewareWithConfig(cfg Config) router.HandlerFunc {
	return func(c *router.Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}

			if isBrokenPipe(err) {
				c.Error(fmt.Errorf("client gone: %v", err))
				c.Abort()
				return
			}

			var stack []byte
			if cfg.PrintStack {
				stack = debug.Stack()
			}
			if cfg.LogFunc != nil {
				cfg.LogFunc(err, stack)
			}

			c.Abort()
			if c.Writer.Written() {
				return
			}
			e := routederr.ErrInternalServer
			if reqID := c.GetString("request_id"); reqID != "" {
				e = e.WithRequestID(reqID)
			}
			e.WriteJSON(c.Writer)
		}()

		c.Next()
	}
}

// isBrokenPipe detects write failures caused by the client closing the
// connection, which net/http surfaces as panics from the ResponseWriter.
func isBrokenPipe(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.EPIPE) || errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		msg := strings.ToLower(opErr.Err.Error())
		return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
	}
	return false
}
