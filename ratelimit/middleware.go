package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// KeyFunc derives the client key a request is counted under.
type KeyFunc func(c echo.Context) string

// ForwardedForKey uses the first X-Forwarded-For value. Requests without
// the header all share the "unknown" bucket.
func ForwardedForKey(c echo.Context) string {
	xff := c.Request().Header.Get(echo.HeaderXForwardedFor)
	if i := strings.IndexByte(xff, ','); i >= 0 {
		xff = xff[:i]
	}
	if ip := strings.TrimSpace(xff); ip != "" {
		return ip
	}
	return "unknown"
}

// RealIPKey uses Echo's IP extractor, which honours the configured
// trusted proxies.
func RealIPKey(c echo.Context) string {
	return c.RealIP()
}

// Middleware enforces rule on every request it wraps. Store failures are
// logged and the request is let through.
func (l *Limiter) Middleware(rule Rule, keyFn KeyFunc) echo.MiddlewareFunc {
	if keyFn == nil {
		keyFn = ForwardedForKey
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFn(c)
			res, err := l.Check(c.Request().Context(), key, rule)
			if err != nil {
				l.logger.Error("ratelimit check failed",
					zap.String("rule", rule.Name), zap.String("key", key), zap.Error(err))
				return next(c)
			}

			if res.Limited {
				retry := retryAfter(res.ResetTime, l.now())
				h := c.Response().Header()
				setHeaders(h, res)
				h.Set("Retry-After", strconv.Itoa(retry))
				l.logger.Info("ratelimit: request blocked",
					zap.String("rule", rule.Name), zap.String("key", key))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":     "Too many requests",
					"message":   "Rate limit exceeded. Try again in " + strconv.Itoa(retry) + " seconds.",
					"resetTime": res.ResetTime.UTC().Format(time.RFC3339),
				})
			}

			c.Response().Before(func() {
				setHeaders(c.Response().Header(), res)
			})
			return next(c)
		}
	}
}

func setHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
}

// retryAfter returns the whole seconds until reset, rounded up.
func retryAfter(reset, now time.Time) int {
	secs := math.Ceil(reset.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}
