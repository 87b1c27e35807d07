package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func newTestManager(now *time.Time) *Manager {
	m := NewManager([]byte("test-secret"), time.Hour)
	m.now = func() time.Time { return *now }
	return m
}

func TestLoginAndCurrentUser(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	token, exp, err := m.Login("  doctor@neuroscribe.ai ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("expected expiry %v, got %v", now.Add(time.Hour), exp)
	}

	user, err := m.CurrentUser(token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user != "doctor@neuroscribe.ai" {
		t.Errorf("expected trimmed identifier, got %q", user)
	}
}

func TestLogin_EmptyIdentifier(t *testing.T) {
	m := NewManager([]byte("s"), 0)
	if _, _, err := m.Login("   "); !errors.Is(err, ErrMissingIdentifier) {
		t.Errorf("expected ErrMissingIdentifier, got %v", err)
	}
}

func TestParse_Expired(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	token, _, err := m.Login("dr.who")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)

	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	a := NewManager([]byte("secret-a"), time.Hour)
	b := NewManager([]byte("secret-b"), time.Hour)

	token, _, err := a.Login("dr.who")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	m := NewManager([]byte("test-secret"), time.Hour)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "dr.who",
		Issuer:    DefaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected HS512 token to be rejected, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	m := NewManager(nil, 0)
	if _, err := m.Parse(""); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestLogout_RevokesUntilExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	token, _, err := m.Login("dr.who")
	if err != nil {
		t.Fatal(err)
	}
	other, _, err := m.Login("dr.who")
	if err != nil {
		t.Fatal(err)
	}

	m.Logout(token)
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected revoked token to be rejected, got %v", err)
	}
	if _, err := m.Parse(other); err != nil {
		t.Errorf("expected other session to survive, got %v", err)
	}
	if got := m.RevokedCount(); got != 1 {
		t.Errorf("expected 1 revocation, got %d", got)
	}

	// Logging out twice is harmless.
	m.Logout(token)

	now = now.Add(2 * time.Hour)
	if got := m.RevokedCount(); got != 0 {
		t.Errorf("expected revocation pruned after expiry, got %d", got)
	}
}

func newSessionServer(m *Manager) *echo.Echo {
	e := echo.New()
	g := e.Group("/api/v1")
	NewHandler(m, false).RegisterRoutes(g)
	g.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, UserFromContext(c.Request().Context()))
	}, RequireSession(m))
	return e
}

func TestHandler_LoginFlow(t *testing.T) {
	m := NewManager([]byte("test-secret"), time.Hour)
	e := newSessionServer(m)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"identifier":"doctor@neuroscribe.ai"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.User != "doctor@neuroscribe.ai" {
		t.Errorf("unexpected user %q", body.User)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("expected HttpOnly cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "doctor@neuroscribe.ai" {
		t.Errorf("expected whoami to return user, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestHandler_LoginRequiresIdentifier(t *testing.T) {
	e := newSessionServer(NewManager([]byte("s"), time.Hour))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"identifier":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRequireSession_BearerToken(t *testing.T) {
	m := NewManager([]byte("s"), time.Hour)
	e := newSessionServer(m)
	token, _, err := m.Login("dr.who")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", rec.Code)
	}
}

func TestRequireSession_Missing(t *testing.T) {
	e := newSessionServer(NewManager([]byte("s"), time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUserFromContext_Empty(t *testing.T) {
	if got := UserFromContext(context.Background()); got != "" {
		t.Errorf("expected empty user, got %q", got)
	}
}
