package api

import (
	"errors"
	"net/http"
	"strings"

	"carpihogar-assistant/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

var errMissingToken = errors.New("authorization header is missing")

// ActorClaims are the JWT claims issued by the storefront auth service
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// parseActor reads the bearer token. It returns errMissingToken when there is none.
func (h *Handler) parseActor(c *gin.Context) (*models.Actor, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, errMissingToken
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, errors.New("authorization header must be a bearer token")
	}

	claims := &ActorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.opts.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &models.Actor{ID: claims.Subject, Role: models.Role(claims.Role)}, nil
}

// requireActor rejects requests without a valid token
func (h *Handler) requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := h.parseActor(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing token"})
			return
		}
		c.Set(actorKey, *actor)
		c.Next()
	}
}

// optionalActor accepts anonymous requests but rejects bad tokens
func (h *Handler) optionalActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := h.parseActor(c)
		switch {
		case errors.Is(err, errMissingToken):
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		default:
			c.Set(actorKey, *actor)
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
