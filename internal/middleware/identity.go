package middleware

// identity.go provides helpers for reading the authenticated identity
// back out of the Echo context after JWTAuth has run.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID extracts the authenticated user's id from the context. The sub
// claim arrives as float64 from JSON decoding, but tokens issued by
// other tooling may carry it as a numeric string; both are accepted.
// Returns 0 when no authenticated user is present.
func UserID(c echo.Context) uint64 {
	switch v := c.Get("user_id").(type) {
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case string:
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return id
		}
	case uint64:
		return v
	}
	return 0
}

// Role returns the authenticated user's role claim, or "" when absent.
func Role(c echo.Context) string {
	if r, ok := c.Get("role").(string); ok {
		return r
	}
	return ""
}
