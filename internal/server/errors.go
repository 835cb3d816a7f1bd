package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	transactiondomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Duplicates are validation failures, but clients need to tell them apart.
	if isConflictError(err) {
		field, code := conflictDetail(err)
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    code,
					Message: "already exists",
				},
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "upload exceeds the configured size limit",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, db.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded on the request log line.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, userdomain.ErrDuplicate),
		errors.Is(err, transactiondomain.ErrDuplicate):
		return true
	default:
		return false
	}
}

func conflictDetail(err error) (string, string) {
	switch {
	case errors.Is(err, userdomain.ErrDuplicate):
		return "userId", userdomain.ErrDuplicate.Error()
	case errors.Is(err, transactiondomain.ErrDuplicate):
		return "rowId", transactiondomain.ErrDuplicate.Error()
	default:
		return "", ErrConflict.Error()
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, userdomain.ErrInvalidID),
		errors.Is(err, userdomain.ErrInvalidUserID),
		errors.Is(err, transactiondomain.ErrInvalidID),
		errors.Is(err, transactiondomain.ErrInvalidRowID),
		errors.Is(err, transactiondomain.ErrInvalidUserID),
		errors.Is(err, transactiondomain.ErrInvalidTokenType),
		errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, dashboarddomain.ErrInvalidDate),
		errors.Is(err, dashboarddomain.ErrInvalidDateRange),
		errors.Is(err, importdomain.ErrMalformedSource),
		errors.Is(err, importdomain.ErrMissingSource):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, transactiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// validationErrorCode unwraps to the sentinel so wrapped causes never reach the client.
func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		userdomain.ErrInvalidID,
		userdomain.ErrInvalidUserID,
		transactiondomain.ErrInvalidID,
		transactiondomain.ErrInvalidRowID,
		transactiondomain.ErrInvalidUserID,
		transactiondomain.ErrInvalidTokenType,
		transactiondomain.ErrInvalidAmount,
		dashboarddomain.ErrInvalidDate,
		dashboarddomain.ErrInvalidDateRange,
		importdomain.ErrMalformedSource,
		importdomain.ErrMissingSource,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_date", "invalid_date_range":
		return "date"
	case "malformed_source", "missing_source":
		return "file"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_date":
		return "dates must use YYYY-MM-DD"
	case "invalid_date_range":
		return "startDate must not be after endDate"
	case "malformed_source":
		return "file is not readable CSV"
	case "missing_source":
		return "file is required"
	default:
		return "invalid value"
	}
}
