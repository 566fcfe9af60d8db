package errors

import (
	"net/http"
	"strings"
)

// ErrorCode identifies a failure category as "<MODULE>_<NNN>".
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// ─────────────────────────────────────────────────────────────────────────────
// Common codes
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeRateLimit          ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Short aliases used throughout the code base.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// ─────────────────────────────────────────────────────────────────────────────
// Coefficient set codes
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeCoeffSetNotFound       ErrorCode = "COEFF_001"
	ErrCodeCoeffParseFailed       ErrorCode = "COEFF_002"
	ErrCodeCoeffCountMismatch     ErrorCode = "COEFF_003"
	ErrCodeCoeffNonFinite         ErrorCode = "COEFF_004"
	ErrCodeCoeffBasisMismatch     ErrorCode = "COEFF_005"
	ErrCodeCoeffParamsInvalid     ErrorCode = "COEFF_006"
	ErrCodeCoeffFormatUnsupported ErrorCode = "COEFF_007"
	ErrCodeCoeffStorageFailed     ErrorCode = "COEFF_008"
)

// ─────────────────────────────────────────────────────────────────────────────
// Geometry and evaluation codes
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeFragmentParseFailed    ErrorCode = "GEOM_001"
	ErrCodeFragmentComposition    ErrorCode = "GEOM_002"
	ErrCodeVariableCountMismatch  ErrorCode = "EVAL_001"
	ErrCodeEvaluationInputMissing ErrorCode = "EVAL_002"
	ErrCodeBatchTooLarge          ErrorCode = "EVAL_003"
	ErrCodeCoverageLookupFailed   ErrorCode = "EVAL_004"
)

// ─────────────────────────────────────────────────────────────────────────────
// Messaging codes
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeMessagePublishFailed ErrorCode = "MSG_001"
	ErrCodeMessageConsumeFailed ErrorCode = "MSG_002"
	ErrCodeMessageInvalid       ErrorCode = "MSG_003"
)

// ErrorCodeHTTPStatus maps codes to the HTTP status returned by the API.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeRateLimit:          http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeCoeffSetNotFound:       http.StatusNotFound,
	ErrCodeCoeffParseFailed:       http.StatusBadRequest,
	ErrCodeCoeffCountMismatch:     http.StatusBadRequest,
	ErrCodeCoeffNonFinite:         http.StatusBadRequest,
	ErrCodeCoeffBasisMismatch:     http.StatusUnprocessableEntity,
	ErrCodeCoeffParamsInvalid:     http.StatusBadRequest,
	ErrCodeCoeffFormatUnsupported: http.StatusUnsupportedMediaType,
	ErrCodeCoeffStorageFailed:     http.StatusInternalServerError,

	ErrCodeFragmentParseFailed:    http.StatusBadRequest,
	ErrCodeFragmentComposition:    http.StatusBadRequest,
	ErrCodeVariableCountMismatch:  http.StatusBadRequest,
	ErrCodeEvaluationInputMissing: http.StatusBadRequest,
	ErrCodeBatchTooLarge:          http.StatusRequestEntityTooLarge,
	ErrCodeCoverageLookupFailed:   http.StatusBadGateway,

	ErrCodeMessagePublishFailed: http.StatusInternalServerError,
	ErrCodeMessageConsumeFailed: http.StatusInternalServerError,
	ErrCodeMessageInvalid:       http.StatusBadRequest,
}

// ErrorCodeMessage holds the default human-readable message of each code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "authentication required",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeRateLimit:          "rate limit exceeded",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeCoeffSetNotFound:       "coefficient set not found",
	ErrCodeCoeffParseFailed:       "failed to parse coefficient file",
	ErrCodeCoeffCountMismatch:     "wrong number of coefficients",
	ErrCodeCoeffNonFinite:         "coefficient is not finite",
	ErrCodeCoeffBasisMismatch:     "coefficient set was fitted against a different basis",
	ErrCodeCoeffParamsInvalid:     "invalid nonlinear parameters",
	ErrCodeCoeffFormatUnsupported: "unsupported coefficient format",
	ErrCodeCoeffStorageFailed:     "failed to store coefficient set",

	ErrCodeFragmentParseFailed:    "failed to parse fragment",
	ErrCodeFragmentComposition:    "fragment is not an H2O + H2O + ion cluster",
	ErrCodeVariableCountMismatch:  "wrong number of variables",
	ErrCodeEvaluationInputMissing: "evaluation input missing",
	ErrCodeBatchTooLarge:          "batch too large",
	ErrCodeCoverageLookupFailed:   "coverage lookup failed",

	ErrCodeMessagePublishFailed: "failed to publish message",
	ErrCodeMessageConsumeFailed: "failed to consume message",
	ErrCodeMessageInvalid:       "invalid message",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
