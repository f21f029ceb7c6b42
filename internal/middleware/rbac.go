package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lifecycle/internal/model"
	"github.com/stemsi/exstem-lifecycle/internal/response"
)

// RequirePermission checks that the admin JWT contains the required permission code.
func RequirePermission(code model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if !claims.HasPermission(string(code)) {
			response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
			return
		}
		c.Next()
	}
}
