package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

// Claims carried by relay credentials.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserLookup resolves the user a credential refers to.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Identity is the result of a successful admission.
type Identity struct {
	UserID string
	User   models.User
}

// Gate verifies credentials presented at connection time.
type Gate struct {
	secret  []byte
	users   UserLookup
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewGate constructs a Gate. timeout bounds the whole admission, store lookup included.
func NewGate(secret []byte, users UserLookup, timeout time.Duration, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{secret: secret, users: users, timeout: timeout, log: log, now: time.Now}
}

// Admit validates credential and resolves its user. credential may be the
// raw token or an Authorization header value ("Bearer <token>").
func (g *Gate) Admit(ctx context.Context, credential string) (Identity, error) {
	token := TokenFromHeader(credential)
	if token == "" {
		return Identity{}, ErrMissing
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	claims, err := g.parse(token)
	if err != nil {
		g.log.Debug("credential rejected", zap.Error(err))
		return Identity{}, err
	}

	user, err := g.users.GetUser(ctx, claims.UserID)
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		return Identity{}, newError(KindUnknownUser, err)
	case err != nil:
		g.log.Warn("user lookup failed during admission", zap.String("user_id", claims.UserID), zap.Error(err))
		return Identity{}, newError(KindInvalid, err)
	}

	return Identity{UserID: user.ID, User: user}, nil
}

func (g *Gate) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(KindExpired, err)
		}
		return nil, newError(KindInvalid, err)
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, newError(KindInvalid, errors.New("id claim is not a user id"))
	}
	return claims, nil
}

// TokenFromHeader strips an optional bearer scheme.
func TokenFromHeader(header string) string {
	fields := strings.Fields(header)
	switch {
	case len(fields) == 0:
		return ""
	case strings.EqualFold(fields[0], "bearer"):
		if len(fields) == 2 {
			return fields[1]
		}
		return ""
	case len(fields) == 1:
		return fields[0]
	}
	return strings.TrimSpace(header)
}
