package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/gopherchat/internal/apperr"
)

// Identity is what a verified credential resolves to.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

func SignJWT(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Directory resolves bearer tokens to identities. It holds no state besides
// the signing secret and is safe for concurrent use.
type Directory struct {
	secret []byte
	ttl    time.Duration
}

func NewDirectory(secret string, ttl time.Duration) *Directory {
	return &Directory{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for id with the directory's lifetime.
func (d *Directory) Issue(id Identity) (string, error) {
	return SignJWT(id, string(d.secret), d.ttl)
}

// Authenticate verifies token and returns the identity it carries. Every
// failure is apperr.Unauthorized.
func (d *Directory) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.Unauthorized()
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return d.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Unauthorized()
	}
	if claims.UserID == "" {
		return Identity{}, apperr.Unauthorized()
	}
	return Identity{UserID: claims.UserID, Username: claims.Username, Email: claims.Email}, nil
}

var errNoBearer = errors.New("missing bearer token")

// BearerToken extracts the token from an "Authorization: Bearer <t>" value.
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errNoBearer
	}
	return parts[1], nil
}
