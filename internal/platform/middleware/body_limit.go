package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20 // 1 MB

var sizeSuffixes = map[byte]int64{
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
}

// BodyLimit caps request body sizes. Signal deposits (POST .../signal)
// get their own, much smaller cap since a single SDP or ICE candidate
// blob is all they ever carry. Limits are size strings like "1M" or
// "64K"; a bare number is bytes. Oversized requests get HTTP 413.
func BodyLimit(defaultLimit, signalLimit string) echo.MiddlewareFunc {
	general := parseLimit(defaultLimit)
	signal := parseLimit(signalLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := general
			if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/signal") {
				limit = signal
			}

			// Declared length gives an early rejection; the capped reader
			// still enforces the limit for chunked or lying clients.
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds the %d byte limit", limit),
				})
			}
			req.Body = &cappedBody{inner: req.Body, left: limit}
			return next(c)
		}
	}
}

// cappedBody fails the read once more than left bytes have been consumed.
type cappedBody struct {
	inner io.ReadCloser
	left  int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left < 0 {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	// Read one byte past the allowance so overflow is detectable.
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.inner.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.inner.Close() }

// parseLimit converts "64K" style size strings to bytes. Unparseable or
// negative values fall back to 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return defaultBodyLimit
	}

	mult := int64(1)
	if m, ok := sizeSuffixes[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return defaultBodyLimit
	}
	return n * mult
}
