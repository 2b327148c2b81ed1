package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// supabaseAudience is the aud claim Supabase puts on signed-in user tokens.
const supabaseAudience = "authenticated"

// User is the authenticated caller as described by a Supabase access token.
type User struct {
	ID    string
	Email string
	Name  string
}

type Service interface {
	ValidateToken(ctx context.Context, token string) (*User, error)
}

type service struct {
	secret []byte
}

// NewService verifies HS256 tokens signed with the project's JWT secret.
func NewService(secret string) *service {
	return &service{secret: []byte(secret)}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	UserMetadata struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
}

func (s *service) ValidateToken(ctx context.Context, token string) (*User, error) {
	if len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(supabaseAudience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	name := c.UserMetadata.FullName
	if name == "" {
		name = c.UserMetadata.Name
	}
	return &User{ID: c.Subject, Email: c.Email, Name: name}, nil
}

type contextKey string

const ctxUserKey contextKey = "user"

// UserFromCtx returns the authenticated user or nil.
func UserFromCtx(ctx context.Context) *User {
	u, _ := ctx.Value(ctxUserKey).(*User)
	return u
}

// WithUser returns a context carrying the given user.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxUserKey, u)
}
