package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// CookieName is the cookie holding the session token.
const CookieName = "neuroscribe_session"

type contextKey string

const userKey contextKey = "session_user"

// Handler exposes login, logout and current-user endpoints.
type Handler struct {
	mgr          *Manager
	secureCookie bool
}

// NewHandler returns a Handler. secureCookie sets the Secure attribute and
// should be true when serving over TLS.
func NewHandler(mgr *Manager, secureCookie bool) *Handler {
	return &Handler{mgr: mgr, secureCookie: secureCookie}
}

// RegisterRoutes mounts the session endpoints on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/session", h.Login)
	g.GET("/session", h.Current)
	g.DELETE("/session", h.Logout)
}

type loginRequest struct {
	Identifier string `json:"identifier" form:"identifier"`
}

type sessionResponse struct {
	User      string     `json:"user"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	token, expiresAt, err := h.mgr.Login(req.Identifier)
	if err != nil {
		if errors.Is(err, ErrMissingIdentifier) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, sessionResponse{User: strings.TrimSpace(req.Identifier), ExpiresAt: &expiresAt})
}

func (h *Handler) Current(c echo.Context) error {
	user, err := h.mgr.CurrentUser(TokenFromRequest(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrNoSession.Error())
	}
	return c.JSON(http.StatusOK, sessionResponse{User: user})
}

func (h *Handler) Logout(c echo.Context) error {
	h.mgr.Logout(TokenFromRequest(c))
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

// RequireSession rejects requests without a valid session and stores the
// clinician identifier on the request context.
func RequireSession(mgr *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := mgr.CurrentUser(TokenFromRequest(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrNoSession.Error())
			}
			ctx := context.WithValue(c.Request().Context(), userKey, user)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// TokenFromRequest reads the session token from the cookie, falling back to
// a bearer Authorization header.
func TokenFromRequest(c echo.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	parts := strings.SplitN(c.Request().Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// UserFromContext returns the identifier stored by RequireSession.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}
