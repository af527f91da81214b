package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// CurrentUser returns the authenticated user of a request, or nil.
func CurrentUser(c echo.Context) *AppUser {
	ac, ok := c.(*AppContext)
	if !ok {
		return nil
	}
	return ac.User
}

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func HasAnyPermission(user *AppUser, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return HasPermission(user, p)
	})
}

func requirePermissions(check func(*AppUser) bool, missing string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			if !check(user) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + missing})
			}
			return next(c)
		}
	}
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return requirePermissions(func(u *AppUser) bool {
		return HasPermission(u, permission)
	}, permission)
}

func RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return requirePermissions(func(u *AppUser) bool {
		return HasAnyPermission(u, permissions...)
	}, strings.Join(permissions, " or "))
}
