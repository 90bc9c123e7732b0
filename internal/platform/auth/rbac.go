package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, required := range roles {
				if HasRole(ctx, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireUser returns the authenticated user's id. Services call it before
// any mutation; a missing or malformed identity is ErrUnauthenticated.
func RequireUser(ctx context.Context) (uuid.UUID, error) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject %q is not a uuid", ErrUnauthenticated, raw)
	}
	return id, nil
}

// OptionalUser returns the user id when present. Read-only views use it to
// show a signed-out state instead of failing.
func OptionalUser(ctx context.Context) (uuid.UUID, bool) {
	id, err := RequireUser(ctx)
	return id, err == nil
}
