package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleDispatch = "dispatch"
	RoleAdmin    = "admin"
)

type Principal struct {
	Subject string
	Role    string
}

// HasRole reports whether p holds any of roles. Admin implies every role.
func (p Principal) HasRole(roles ...string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if strings.EqualFold(p.Role, r) {
			return true
		}
	}
	return false
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// DispatchVerifier validates HS256 tokens issued to internal callers.
type DispatchVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewDispatchVerifier(secret string) *DispatchVerifier {
	return &DispatchVerifier{secret: []byte(secret), now: time.Now}
}

func (v *DispatchVerifier) Configured() bool { return len(v.secret) > 0 }

func (v *DispatchVerifier) Verify(token string) (Principal, error) {
	if !v.Configured() {
		return Principal{}, ErrNotConfigured
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Role == "" {
		return Principal{}, fmt.Errorf("%w: missing role claim", ErrUnauthenticated)
	}
	return Principal{Subject: claims.Subject, Role: strings.ToLower(claims.Role)}, nil
}

// FromRequest reads a bearer token from the Authorization header, falling
// back to the access_token query parameter for WebSocket upgrades.
func (v *DispatchVerifier) FromRequest(r *http.Request) (Principal, error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return Principal{}, fmt.Errorf("%w: expected bearer token", ErrUnauthenticated)
		}
		token = strings.TrimSpace(rest)
	} else {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		if !v.Configured() {
			return Principal{}, ErrNotConfigured
		}
		return Principal{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return v.Verify(token)
}

// Require returns ErrForbidden unless p holds one of roles.
func Require(p Principal, roles ...string) error {
	if p.HasRole(roles...) {
		return nil
	}
	return fmt.Errorf("%w: role %q lacks %s", ErrForbidden, p.Role, strings.Join(roles, "|"))
}

// Issue signs a token; used by operators and tests.
func Issue(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
