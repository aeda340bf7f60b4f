package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Context keys and header names
const (
	ActorKey       = "actor"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	WebhookToken   = "X-Webhook-Token"
	IdempotencyKey = "Idempotency-Key"
)

var (
	ErrTokenMissing = errors.New("missing token")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims is the bearer token payload. Tokens are issued by the identity
// provider; this service only verifies them.
type Claims struct {
	UserID int64  `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token, used by tooling and tests
func IssueToken(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies signature and expiry
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, ErrTokenInvalid
	}
	if claims.Role == "" {
		claims.Role = models.RoleUser
	}
	if !models.ValidUserRole(claims.Role) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// JWTAuth requires a valid bearer token and stores the caller as a service.Actor
func JWTAuth(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if header == "" || !strings.HasPrefix(header, BearerPrefix) {
			handleAuthError(c, logger, ErrTokenMissing)
			return
		}

		claims, err := ParseToken(secret, strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			handleAuthError(c, logger, err)
			return
		}

		c.Set(ActorKey, service.Actor{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
			Kind:    "permission_denied",
			Message: "insufficient role",
		})
	}
}

func handleAuthError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Debug("Authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
		Kind:    "unauthenticated",
		Message: err.Error(),
	})
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}
