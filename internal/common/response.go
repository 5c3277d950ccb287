package common

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/apperr"
)

func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func Fail(c *gin.Context, status int, code string, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// FailErr writes err in the failure envelope using its apperr kind.
func FailErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Printf("[http] %s %s failed request_id=%s err=%v",
			c.Request.Method, c.FullPath(), c.GetString(RequestIDKey), err)
	}
	Fail(c, apperr.HTTPStatus(kind), apperr.Code(kind), apperr.PublicMessage(err))
}

const RequestIDKey = "request_id"
