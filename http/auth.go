package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"venue/entity"
)

const userContextKey = "user"

type UserClaims struct {
	Role entity.Role `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthToken issues a bearer token for user. Tokens are minted by the
// identity provider in production; this is used by tooling and tests.
func NewAuthToken(secret string, user entity.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			user, err := parseUser(strings.TrimPrefix(auth, "Bearer "), secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func parseUser(raw string, secret []byte) (entity.User, error) {
	var claims UserClaims

	_, err := jwt.ParseWithClaims(
		raw,
		&claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return entity.User{}, err
	}

	switch claims.Role {
	case entity.RoleCustomer, entity.RoleManager, entity.RoleGate, entity.RoleAdmin:
	default:
		return entity.User{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return entity.User{}, fmt.Errorf("missing subject")
	}

	return entity.User{ID: claims.Subject, Role: claims.Role}, nil
}

func userFromContext(c echo.Context) entity.User {
	user, _ := c.Get(userContextKey).(entity.User)
	return user
}
