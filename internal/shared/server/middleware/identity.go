package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"cvsearch-backend/internal/shared/server/respond"
)

const (
	ownerIDKey    = "ownerId"
	ownerHeader   = "X-Owner-Id"
	maxOwnerIDLen = 256
	bearerPrefix  = "Bearer "
)

var errInvalidToken = errors.New("invalid token")

// Identity resolves the calling owner. With a secret, a bearer JWT signed
// with HS256 is required and its subject becomes the owner id. Without one,
// the owner id is taken from the X-Owner-Id header.
func Identity(secret string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		var ownerID string
		if len(key) > 0 {
			sub, err := ownerFromToken(c.GetHeader("Authorization"), key)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			ownerID = sub
		} else {
			ownerID = strings.TrimSpace(c.GetHeader(ownerHeader))
		}

		if ownerID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}
		if len(ownerID) > maxOwnerIDLen {
			respond.Error(c, http.StatusBadRequest, "validation_error", "owner id too long", nil)
			return
		}

		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

func ownerFromToken(header string, key []byte) (string, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errInvalidToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return "", errInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

// SignOwnerToken issues an HS256 token whose subject is ownerID.
func SignOwnerToken(secret, ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  ownerID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// OwnerIDFromContext fetches the owner ID set by the identity middleware.
func OwnerIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(ownerIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
