package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/mkarimova/pet-care-platform/internal/model"
)

// RequirePermission enforces that the authenticated role grants the
// given permission. The role comes from the context set by AccessAuth;
// the role→permission mapping is the static table in the model package,
// so an unknown or missing role denies by construction.
func RequirePermission(p model.Permission) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role, ok := c.Get("role").(model.Role)
            if !ok || !model.GrantsPermission(role, p) {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
