package router

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"penelope-batcher/controllers"

	"github.com/gin-gonic/gin"
)

// Authorizer blocks protected routes unless the request carries the admin
// token as a Bearer credential. An empty token leaves the routes open.
func Authorizer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(got) == "" {
			controllers.RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			controllers.RespondError(c, "sem acesso", http.StatusForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
