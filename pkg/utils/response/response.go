package response

import (
	"net/http"

	"rejudge/pkg/errors"
	"rejudge/pkg/utils/contextkey"
	"rejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Code    errors.ErrorCode `json:"code"`               // Error code
	Message string           `json:"message"`            // Error message
	Data    interface{}      `json:"data,omitempty"`     // Response data (omit if nil)
	Details interface{}      `json:"details,omitempty"`  // Additional details (omit if nil)
	TraceID string           `json:"trace_id,omitempty"` // Request trace ID
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	resp := Response{
		Code:    errors.Success,
		Message: "Success",
		Data:    data,
		TraceID: getTraceID(c),
	}
	c.JSON(http.StatusOK, resp)
}

// Error sends an error response
// It automatically extracts error code and message from the error
func Error(c *gin.Context, err error) {
	resp := ErrorBody(c, err)
	c.JSON(resp.Code.HTTPStatus(), resp)
}

// ErrorBody logs err and returns the response body describing it without writing it.
// Transports that do not answer with a plain JSON body, such as websockets, send it themselves.
func ErrorBody(c *gin.Context, err error) Response {
	customErr := errors.GetError(err)

	logger.Error(c.Request.Context(), "request error",
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
		zap.String("stack", customErr.Stack),
	)

	return Response{
		Code:    customErr.Code,
		Message: customErr.Error(),
		Details: customErr.Details,
		TraceID: getTraceID(c),
	}
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	code := errors.InvalidParams
	if message == "" {
		message = code.Message()
	}

	logger.Warn(c.Request.Context(), "bad request", zap.String("message", message))

	c.JSON(code.HTTPStatus(), Response{
		Code:    code,
		Message: message,
		TraceID: getTraceID(c),
	})
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(string(contextkey.TraceID)); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	if c.Request != nil {
		if traceID, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
			return traceID
		}
	}
	return ""
}
