package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route patterns that never validate a bearer token.
// Document downloads carry their own signed token in the path.
var publicPaths = map[string]bool{
	"/health":                  true,
	"/health/db":               true,
	"/api/v1/shop/catalog":     true,
	"/api/v1/documents/:token": true,
}

// AuthSkipper lets public routes and token-less requests through. Guests
// browse and fill a cart anonymously; services call RequireUser where an
// identity is needed, so a missing token surfaces as 401 there.
func AuthSkipper(c echo.Context) bool {
	if publicPaths[c.Path()] {
		return true
	}
	return c.Request().Header.Get("Authorization") == ""
}
