package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// ErrorWithStatus writes the error envelope with a non-200 HTTP status, used by
// form endpoints where browsers and scripts look at the status line.
func ErrorWithStatus(c *gin.Context, status int, code int, message string) {
	proxyutil.FailJson(c, status, AsCodeErr(uint32(code), message))
}

// FailWithData writes the error envelope together with data the client needs
// to redisplay a form, such as the submitted username or the failing field.
func FailWithData(c *gin.Context, status int, code int, message string, data interface{}) {
	c.AbortWithStatusJSON(status, &proxyutil.CommonResponse{
		Code:    uint32(code),
		Message: message,
		Data:    data,
	})
}
