package identity

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims — содержимое bearer-токена.
type Claims struct {
	jwt.RegisteredClaims
	Role    Role `json:"role"`
	Blocked bool `json:"blocked,omitempty"`
}

// Tokens выпускает и проверяет HS256-токены.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue подписывает токен для субъекта.
func (t *Tokens) Issue(a Actor, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: a.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse проверяет подпись и срок и возвращает субъекта.
func (t *Tokens) Parse(raw string) (Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Blocked {
		return Actor{}, ErrActorBlocked
	}

	return Validate(Actor{ID: claims.Subject, Role: claims.Role})
}

// FromBearer разбирает значение заголовка "Bearer <token>".
func (t *Tokens) FromBearer(header string) (Actor, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Actor{}, fmt.Errorf("%w: invalid authorization format", ErrInvalidToken)
	}
	return t.Parse(strings.TrimSpace(parts[1]))
}

// HasRole проверяет, входит ли роль субъекта в список.
func HasRole(a Actor, roles ...Role) bool {
	return slices.Contains(roles, a.Role)
}
