package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeTooManyReqs   = 429
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientCredits = 1001
	CodeWalletNotFound      = 1002
	CodeBookingNotFound     = 1003
	CodeBookingNotCancelled = 1004
	CodePaymentNotFound     = 1005
	CodeConflictRetry       = 1006
	CodeRefundFailed        = 1007
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// ServerError hides the underlying error from the client. Details are
// logged server side only.
func ServerError(c *gin.Context) {
	Error(c, CodeServerError, "internal server error")
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
