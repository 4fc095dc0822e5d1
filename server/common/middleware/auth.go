package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"halo_server/server/common/transport/httpresp"
)

const (
	ContextAccessToken = "auth_access_token"
	ContextUserID      = "auth_user_id"
)

type tokenAuth interface {
	ParseIdentity(token string) (string, error)
}

// AuthRequired accepts the token from the Authorization header or, for
// WebSocket upgrades that cannot set headers, from access_token/token query
// parameters.
func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := AccessToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		userID, err := auth.ParseIdentity(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(ContextAccessToken, token)
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

func AccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token, token != ""
}

// UserID returns the identity stored by AuthRequired, or "".
func UserID(c *gin.Context) string {
	raw, ok := c.Get(ContextUserID)
	if !ok {
		return ""
	}
	id, _ := raw.(string)
	return id
}
