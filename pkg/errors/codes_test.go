package errors_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

func TestHTTPStatusForCode(t *testing.T) {
	cases := map[errors.ErrorCode]int{
		errors.ErrCodeCoeffSetNotFound:       http.StatusNotFound,
		errors.ErrCodeCoeffBasisMismatch:     http.StatusUnprocessableEntity,
		errors.ErrCodeCoeffFormatUnsupported: http.StatusUnsupportedMediaType,
		errors.ErrCodeBatchTooLarge:          http.StatusRequestEntityTooLarge,
		errors.ErrorCode("NOPE_999"):         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, errors.HTTPStatusForCode(code), code.String())
	}
}

func TestEveryCodeHasMessageAndStatus(t *testing.T) {
	for code := range errors.ErrorCodeHTTPStatus {
		_, ok := errors.ErrorCodeMessage[code]
		assert.True(t, ok, "missing message for %s", code)
	}
	for code := range errors.ErrorCodeMessage {
		_, ok := errors.ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "missing status for %s", code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "coefficient set not found", errors.DefaultMessageForCode(errors.ErrCodeCoeffSetNotFound))
	assert.Equal(t, "unknown error", errors.DefaultMessageForCode("X"))
}

func TestClientServerClassification(t *testing.T) {
	assert.True(t, errors.IsClientError(errors.ErrCodeFragmentParseFailed))
	assert.False(t, errors.IsServerError(errors.ErrCodeFragmentParseFailed))
	assert.True(t, errors.IsServerError(errors.ErrCodeDatabaseError))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COEFF", errors.ModuleForCode(errors.ErrCodeCoeffParseFailed))
	assert.Equal(t, "GEOM", errors.ModuleForCode(errors.ErrCodeFragmentParseFailed))
	assert.Equal(t, "UNKNOWN", errors.ModuleForCode("bogus"))
}
