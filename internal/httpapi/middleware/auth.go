package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"
)

type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// AuthRequired resolves the bearer token and stores the identity on the
// context. Any failure is a 401 in the failure envelope.
func AuthRequired(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		id, err := authn.Authenticate(token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		c.Set(UserIDKey, id.UserID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

// UserID returns the authenticated user id. Only valid behind AuthRequired.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
