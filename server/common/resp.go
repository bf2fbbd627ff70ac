package common

import (
	"github.com/gin-gonic/gin"

	"github.com/draftsync/draftsync/pkg/utils"
)

// ErrorDetailResp answers failed pull queries with the {detail} shape.
func ErrorDetailResp(c *gin.Context, code int, detail string) {
	c.JSON(code, gin.H{"detail": detail})
}

// ErrorResp logs the error and answers with its message as detail.
func ErrorResp(c *gin.Context, err error, code int) {
	utils.Log.Errorf("request %s failed: %+v", c.Request.URL.Path, err)
	ErrorDetailResp(c, code, err.Error())
}

// SuccessResp answers with the given payload, or {} when absent.
func SuccessResp(c *gin.Context, data ...any) {
	if len(data) == 0 {
		c.JSON(200, gin.H{})
		return
	}
	c.JSON(200, data[0])
}
