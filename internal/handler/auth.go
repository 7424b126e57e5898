package handler

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/mkarimova/pet-care-platform/internal/auth"
    "github.com/mkarimova/pet-care-platform/internal/model"
)

// AuthHandler exposes the session orchestrator over HTTP. It owns no
// logic of its own: it binds DTOs, forwards the caller context and maps
// the service's error taxonomy onto status codes.
type AuthHandler struct {
    Auth *auth.Service
}

func NewAuthHandler(a *auth.Service) *AuthHandler {
    return &AuthHandler{Auth: a}
}

// ----- DTOs -----

type registerReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
    Phone    string `json:"phone,omitempty"`
    Role     string `json:"role,omitempty"` // CUSTOMER | STAFF | ADMIN
}
type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}
type changePasswordReq struct {
    CurrentPassword string `json:"current_password"`
    NewPassword     string `json:"new_password"`
}
type setStatusReq struct {
    Status string `json:"status"` // ACTIVE | SUSPENDED | DELETED | PENDING_VERIFICATION
}
type oauthReq struct {
    Provider   string `json:"provider"`
    ExternalID string `json:"external_id"`
    Email      string `json:"email"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}
type authResp struct {
    Account   model.AccountView `json:"account"`
    Access    tokenPart         `json:"access"`
    Refresh   tokenPart         `json:"refresh"`
    ExpiresIn int64             `json:"expires_in"`
}

func sessionResp(s *auth.Session) authResp {
    return authResp{
        Account:   s.Account,
        Access:    tokenPart{Token: s.Tokens.AccessToken, Expires: s.Tokens.AccessExpiresAt},
        Refresh:   tokenPart{Token: s.Tokens.RefreshToken, Expires: s.Tokens.RefreshExpiresAt},
        ExpiresIn: s.Tokens.ExpiresIn,
    }
}

func caller(c echo.Context) auth.CallerContext {
    return auth.CallerContext{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// writeAuthError maps the taxonomy to HTTP. Authentication-adjacent
// failures all produce the same body; nothing here distinguishes an
// unknown account from a wrong password, and no internal detail leaks.
func writeAuthError(c echo.Context, err error) error {
    var locked *auth.LockedError
    switch {
    case errors.As(err, &locked):
        retry := int(time.Until(locked.Until).Seconds())
        if retry < 0 {
            retry = 0
        }
        return c.JSON(http.StatusLocked, echo.Map{"error": "account locked", "retry_after_seconds": retry})
    case errors.Is(err, auth.ErrAccountLocked):
        return c.JSON(http.StatusLocked, echo.Map{"error": "account locked"})
    case errors.Is(err, auth.ErrTokenReplayDetected):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "all sessions invalidated"})
    case errors.Is(err, auth.ErrInvalidCredentials):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    case errors.Is(err, auth.ErrAccountNotActive):
        return c.JSON(http.StatusForbidden, echo.Map{"error": "account not active"})
    case errors.Is(err, auth.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
    case errors.Is(err, auth.ErrValidation):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid input"})
    default:
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
    }
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// Register creates an account and returns its first token pair.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    s, err := h.Auth.Register(ctx, auth.RegisterInput{
        Email:    req.Email,
        Password: req.Password,
        Phone:    req.Phone,
        Role:     model.Role(strings.ToUpper(strings.TrimSpace(req.Role))),
    }, caller(c))
    if err != nil {
        return writeAuthError(c, err)
    }
    return c.JSON(http.StatusCreated, sessionResp(s))
}

// Login verifies credentials and returns a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    s, err := h.Auth.Login(ctx, req.Email, req.Password, caller(c))
    if err != nil {
        return writeAuthError(c, err)
    }
    return c.JSON(http.StatusOK, sessionResp(s))
}

// Refresh rotates a refresh token and returns a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    s, err := h.Auth.Refresh(ctx, strings.TrimSpace(req.RefreshToken), caller(c))
    if err != nil {
        return writeAuthError(c, err)
    }
    return c.JSON(http.StatusOK, sessionResp(s))
}

// Logout revokes the presented access token and all refresh tokens of
// the account. Protected route; AccessAuth stored the raw token.
func (h *AuthHandler) Logout(c echo.Context) error {
    raw, _ := c.Get("access_token").(string)
    if raw == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    if err := h.Auth.Logout(ctx, raw, caller(c)); err != nil {
        return writeAuthError(c, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// ChangePassword re-hashes the password and terminates every session.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
    var req changePasswordReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    accountID, _ := c.Get("account_id").(string)
    if accountID == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    if err := h.Auth.ChangePassword(ctx, accountID, req.CurrentPassword, req.NewPassword, caller(c)); err != nil {
        return writeAuthError(c, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// OAuthLogin exchanges a provider-asserted identity for a session. The
// provider callback handling and profile parsing live upstream.
func (h *AuthHandler) OAuthLogin(c echo.Context) error {
    var req oauthReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    s, err := h.Auth.OAuthLogin(ctx, auth.OAuthInput{
        Provider:   strings.ToLower(strings.TrimSpace(req.Provider)),
        ExternalID: strings.TrimSpace(req.ExternalID),
        Email:      req.Email,
    }, caller(c))
    if err != nil {
        return writeAuthError(c, err)
    }
    return c.JSON(http.StatusOK, sessionResp(s))
}

// SetAccountStatus suspends or reactivates an account. Admin-only;
// the permission gate sits in front of this handler.
func (h *AuthHandler) SetAccountStatus(c echo.Context) error {
    var req setStatusReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    actorID, _ := c.Get("account_id").(string)
    ctx, cancel := reqCtx(c)
    defer cancel()

    status := model.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
    err := h.Auth.SetAccountStatus(ctx, actorID, c.Param("id"), status, caller(c))
    if err != nil {
        if errors.Is(err, auth.ErrAccountNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
        }
        return writeAuthError(c, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated identity extracted from the token.
func (h *AuthHandler) Me(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{
        "account_id": c.Get("account_id"),
        "role":       c.Get("role"),
    })
}
