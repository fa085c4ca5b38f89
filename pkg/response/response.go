package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeBusinessRejection = "BUSINESS_REJECTION"
	ErrCodeStateConflict     = "STATE_CONFLICT"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var validationErr *types.ValidationError

	switch {
	case errors.Is(err, types.ErrAccountNotFound),
		errors.Is(err, types.ErrEquityNotFound),
		errors.Is(err, types.ErrOrderNotFound),
		errors.Is(err, types.ErrBalanceNotFound),
		errors.Is(err, types.ErrStockNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, err.Error())

	case errors.Is(err, types.ErrInsufficientFunds),
		errors.Is(err, types.ErrInsufficientStock),
		errors.Is(err, types.ErrInsufficientBlocked):
		UnprocessableEntity(c, ErrCodeBusinessRejection, err.Error())

	case errors.As(err, &validationErr),
		errors.Is(err, types.ErrSameAccount):
		UnprocessableEntity(c, ErrCodeValidationFailed, err.Error())

	case errors.Is(err, types.ErrOrderNotCancellable),
		errors.Is(err, types.ErrOrderNotAmendable):
		StateConflict(c, err.Error())

	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")

	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}

// StateConflict sends a 409 response for invalid state transitions
func StateConflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeStateConflict,
			Message: message,
		},
	})
}

// UnprocessableEntity sends a 422 response for business rejections
func UnprocessableEntity(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
