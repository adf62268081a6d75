package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
)

const cookieName = "access_token"

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	Secret []byte
	TTL    time.Duration
	Clock  func() time.Time
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for act.
func (s Sessions) Issue(act actor.Context) (string, time.Time, error) {
	now := s.Clock()
	exp := now.Add(s.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(act.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   act.PersonID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(s.Secret)
	return signed, exp, err
}

// Parse verifies a token and returns the actor it names.
func (s Sessions) Parse(raw string) (actor.Context, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Clock))
	if err != nil {
		return actor.Context{}, apperr.Wrap(apperr.CodeAuthBadSecret, "invalid session", err)
	}
	id, err := uuid.Parse(c.Subject)
	role := models.Role(c.Role)
	if err != nil || !role.Valid() {
		return actor.Context{}, apperr.New(apperr.CodeAuthBadSecret, "invalid session")
	}
	return actor.New(id, role), nil
}

// token reads the bearer token or the session cookie.
func token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
