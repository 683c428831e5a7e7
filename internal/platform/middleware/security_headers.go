package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaders is the fixed header set applied to every response. The
// service only ever serves JSON and websocket upgrades, so the policy can
// be maximally restrictive. Responses may reference patient consults and
// must never land in a shared cache.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Referrer-Policy":           "no-referrer",
	"Cache-Control":             "no-store",

	// No browser features are granted. Media capture for a consult
	// happens on the web client's own origin, not against this API.
	"Permissions-Policy": "camera=(), microphone=(), geolocation=()",
}

// SecurityHeaders sets the standard security response headers.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for name, value := range securityHeaders {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
