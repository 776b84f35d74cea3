package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/touchon/flowbus/internal/shared/errors"
)

// APIResponse represents a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorInfo represents error information in API response
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response with custom status code
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	}

	c.JSON(statusCode, response)
}

// ErrorResponse sends an error response with custom status code and message
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	errorInfo := ErrorInfo{
		Type:    "error",
		Message: message,
	}

	response := APIResponse{
		Success: false,
		Error:   &errorInfo,
	}

	c.JSON(statusCode, response)
}

// ErrorResponseWithError sends an error response based on the FlowError type
func ErrorResponseWithError(c *gin.Context, err error) {
	var errorInfo ErrorInfo
	statusCode := http.StatusInternalServerError

	if flowErr := errors.GetFlowError(err); flowErr != nil {
		statusCode = StatusForType(flowErr.Type)
		errorInfo = ErrorInfo{
			Type:    string(flowErr.Type),
			Message: flowErr.Message,
			Details: flowErr.Details,
		}
	} else {
		errorInfo = ErrorInfo{
			Type:    "internal_error",
			Message: "Internal server error occurred",
		}
	}

	response := APIResponse{
		Success: false,
		Error:   &errorInfo,
	}

	c.JSON(statusCode, response)
}

// StatusForType maps a FlowError type to an HTTP status code.
func StatusForType(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeConfiguration, errors.ErrorTypeDecode:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeNoServer:
		return http.StatusConflict
	case errors.ErrorTypeConnection, errors.ErrorTypeTransmit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
