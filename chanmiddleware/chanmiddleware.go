// Package chanmiddleware carries over the onion-model middleware chain
// from the RPC layer it is grounded on, retargeted at decoded channel
// messages instead of RPC request/response pairs: logging, rate
// limiting, and retry all compose the same way.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Dispatch:  A.before → B.before → C.before → handler
//	Return:    handler → C.after → B.after → A.after
package chanmiddleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// HandlerFunc is the function signature for channel message handlers —
// the same shape as channel.Handler.HandleMessage, so any Middleware
// chain can wrap a Handler's HandleMessage method directly.
type HandlerFunc func(msgType uint16, body []byte) error

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into one, building from right to
// left so the first middleware listed is the outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware records the message type, size, duration, and any
// error for each dispatched message.
func LoggingMiddleware(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(msgType uint16, body []byte) error {
			start := time.Now()
			err := next(msgType, body)
			logger.Printf("spice: dispatched type=%d size=%d duration=%s", msgType, len(body), time.Since(start))
			if err != nil {
				logger.Printf("spice: dispatch type=%d error: %v", msgType, err)
			}
			return err
		}
	}
}

// RateLimitMiddleware short-circuits dispatch once the token bucket is
// exhausted. The limiter is created once in the outer closure — shared
// across every call through the resulting HandlerFunc — so repeated
// construction per message can't silently defeat the limit.
func RateLimitMiddleware(r rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(r, burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(msgType uint16, body []byte) error {
			if !limiter.Allow() {
				return fmt.Errorf("spice: rate limit exceeded for message type %d", msgType)
			}
			return next(msgType, body)
		}
	}
}

// RetryMiddleware retries a failing dispatch up to maxRetries times
// with exponential backoff (baseDelay * 2^i), the same formula the
// RPC-layer RetryMiddleware uses.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(msgType uint16, body []byte) error {
			err := next(msgType, body)
			for i := 0; i < maxRetries && err != nil; i++ {
				time.Sleep(baseDelay * time.Duration(uint64(1)<<uint(i)))
				err = next(msgType, body)
			}
			return err
		}
	}
}

// RetryDial retries dial with exponential backoff (baseDelay *
// 2^attempt), the same formula RetryMiddleware applies to handler
// dispatch, stopping early if ctx is cancelled.
func RetryDial(ctx context.Context, maxRetries int, baseDelay time.Duration, dial func() error) error {
	err := dial()
	for i := 0; i < maxRetries && err != nil; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(uint64(1)<<uint(i))):
		}
		err = dial()
	}
	return err
}
