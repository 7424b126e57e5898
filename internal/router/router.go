package router // route registration for the auth surface

import (
    "github.com/labstack/echo/v4"

    "github.com/mkarimova/pet-care-platform/internal/handler"
    "github.com/mkarimova/pet-care-platform/internal/middleware"
    "github.com/mkarimova/pet-care-platform/internal/model"
    "github.com/mkarimova/pet-care-platform/internal/token"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
    e.GET("/healthz", handler.Health)
}

// RegisterAuth wires the session endpoints. Unauthenticated operations
// live under /v1/auth; operations that act on an existing session live
// under /v1 behind the access-token middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens *token.Service) {
    g := e.Group("/v1/auth")
    g.POST("/register", a.Register)
    g.POST("/login", a.Login)
    g.POST("/refresh", a.Refresh)
    g.POST("/oauth", a.OAuthLogin)

    auth := e.Group("/v1")
    auth.Use(middleware.AccessAuth(tokens))
    auth.GET("/me", a.Me)
    // Logout needs the presented access token itself (its jti gets
    // revoked for the remainder of its lifetime), so it sits behind the
    // same middleware that already parsed it.
    auth.POST("/logout", a.Logout)
    auth.POST("/account/password", a.ChangePassword)

    admin := auth.Group("/admin")
    admin.Use(middleware.RequirePermission(model.PermAccountsManage))
    admin.PATCH("/accounts/:id/status", a.SetAccountStatus)
}
