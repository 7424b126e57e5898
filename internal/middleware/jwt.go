package middleware // reusable HTTP middleware for the auth surface

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/mkarimova/pet-care-platform/internal/token"
)

// AccessAuth returns middleware that validates a Bearer access token
// through the token service, which pins the signature algorithm, checks
// the kind claim and consults the revocation store. On success the
// account id, role and the raw token are stored in the request context
// under "account_id", "role", "jti" and "access_token".
//
// Every verification failure maps to the same 401 body. A revocation
// store outage maps to 503: infrastructure failure must never be read
// as "not revoked".
func AccessAuth(tokens *token.Service) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims, err := tokens.Verify(c.Request().Context(), raw, token.KindAccess)
            if err != nil {
                if errors.Is(err, token.ErrInvalidToken) {
                    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
                }
                return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
            }

            c.Set("account_id", claims.Subject)
            c.Set("role", claims.Role)
            c.Set("jti", claims.ID)
            c.Set("access_token", raw)
            return next(c)
        }
    }
}
