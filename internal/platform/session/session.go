// Package session implements the clinician login boundary. Login accepts any
// identifier and issues a signed HS256 token; there is no credential check.
// Logout revokes the token until it would have expired anyway.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrNoSession         = errors.New("no active session")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrMissingIdentifier = errors.New("identifier is required")
)

const (
	DefaultTTL    = 12 * time.Hour
	DefaultIssuer = "neuroscribe"
)

// Claims are the JWT claims carried by a session token. Subject holds the
// clinician identifier.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues, parses and revokes session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> natural expiry
}

// NewManager returns a Manager signing with secret. An empty secret gets a
// random one, which invalidates sessions on restart.
func NewManager(secret []byte, ttl time.Duration) *Manager {
	if len(secret) == 0 {
		secret = randomSecret()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret:  secret,
		ttl:     ttl,
		issuer:  DefaultIssuer,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// Login issues a token for identifier.
func (m *Manager) Login(identifier string) (token string, expiresAt time.Time, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", time.Time{}, ErrMissingIdentifier
	}

	now := m.now()
	expiresAt = now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   identifier,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse validates token and returns its claims.
func (m *Manager) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if m.isRevoked(claims.ID) {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims, nil
}

// CurrentUser returns the identifier for token, or ErrNoSession.
func (m *Manager) CurrentUser(token string) (string, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Logout revokes token. Logging out an invalid or already revoked token is
// not an error.
func (m *Manager) Logout(token string) {
	claims, err := m.Parse(token)
	if err != nil {
		return
	}

	expiresAt := m.now().Add(m.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.revoked[claims.ID] = expiresAt
}

// RevokedCount returns the number of tracked revocations.
func (m *Manager) RevokedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return len(m.revoked)
}

func (m *Manager) isRevoked(jti string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok
}

// pruneLocked drops revocations for tokens that have expired on their own.
func (m *Manager) pruneLocked() {
	now := m.now()
	for jti, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, jti)
		}
	}
}

func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: generate secret: %v", err))
	}
	return []byte(hex.EncodeToString(b))
}
