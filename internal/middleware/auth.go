package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
)

// Claims are the session claims carried by marketplace bearer tokens
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// AllowListChecker reports whether an email belongs to a marketplace admin
type AllowListChecker interface {
	IsEmailAllowListed(ctx context.Context, email string) (bool, error)
}

func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{OK: false, Error: code})
}

// ParseToken verifies an HS256 token and returns its claims
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Email == "" {
		return nil, errors.New("token has no email claim")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// Auth requires a valid bearer token and exposes user_id and user_email on
// the context
func Auth(secret string, logger *logrus.Logger) gin.HandlerFunc {
	key := []byte(secret)
	log := logger.WithField("component", "auth")
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing_token")
			return
		}
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			abort(c, http.StatusUnauthorized, "invalid_authorization")
			return
		}

		claims, err := ParseToken(tokenString, key)
		if err != nil {
			log.WithError(err).Debug("rejected bearer token")
			abort(c, http.StatusUnauthorized, "invalid_token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", strings.ToLower(claims.Email))
		c.Next()
	}
}

// RequireAllowListed lets only admin_allowlist members through
func RequireAllowListed(checker AllowListChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := checker.IsEmailAllowListed(c.Request.Context(), c.GetString("user_email"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{OK: false, Error: "access_check_failed", Detail: err.Error()})
			return
		}
		if !allowed {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}
