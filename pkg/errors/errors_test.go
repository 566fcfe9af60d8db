package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"set not found", errors.ErrCodeCoeffSetNotFound, "coefficient set 42 not found"},
		{"invalid param", errors.CodeInvalidParam, "variables must have 21 entries"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)
			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.Contains(t, ae.Stack, "errors_test.go")
		})
	}
}

func TestError_Format(t *testing.T) {
	ae := errors.New(errors.ErrCodeCoeffCountMismatch, "wrong count").WithDetail("got 923")
	assert.Equal(t, "[COEFF_003] wrong count: got 923", ae.Error())

	wrapped := errors.Wrap(fmt.Errorf("disk full"), errors.ErrCodeCoeffStorageFailed, "upload failed")
	assert.Equal(t, "[COEFF_008] upload failed: disk full", wrapped.Error())
}

func TestNewf(t *testing.T) {
	ae := errors.Newf(errors.ErrCodeVariableCountMismatch, "got %d variables, want %d", 20, 21)
	assert.Equal(t, "got 20 variables, want 21", ae.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.CodeInternal, "ignored"))
}

func TestWrap_PreservesCodeWhenUnknown(t *testing.T) {
	inner := errors.New(errors.ErrCodeCoeffSetNotFound, "missing")
	outer := errors.Wrap(inner, errors.CodeUnknown, "loading set")
	assert.Equal(t, errors.ErrCodeCoeffSetNotFound, outer.Code)
	assert.True(t, stderrors.Is(outer, inner))
}

func TestWithCause_DoesNotMutateReceiver(t *testing.T) {
	base := errors.New(errors.CodeInternal, "boom")
	cause := fmt.Errorf("root")
	clone := base.WithCause(cause)

	assert.Nil(t, base.Cause)
	assert.Equal(t, cause, clone.Cause)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("x"))
	assert.Nil(t, nilErr.WithCause(cause))
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain helpers
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_WalksChain(t *testing.T) {
	inner := errors.New(errors.ErrCodeCoeffParseFailed, "line 3")
	mid := errors.Wrap(inner, errors.ErrCodeCoeffStorageFailed, "upload")
	outer := fmt.Errorf("handler: %w", mid)

	assert.True(t, errors.IsCode(outer, errors.ErrCodeCoeffParseFailed))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeCoeffStorageFailed))
	assert.False(t, errors.IsCode(outer, errors.CodeNotFound))
	assert.False(t, errors.IsCode(nil, errors.CodeNotFound))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, errors.IsNotFound(errors.NotFound("x")))
	assert.True(t, errors.IsNotFound(errors.New(errors.ErrCodeCoeffSetNotFound, "x")))
	assert.True(t, errors.IsNotFound(fmt.Errorf("wrapped: %w", errors.NotFound("x"))))
	assert.False(t, errors.IsNotFound(errors.Internal("x")))
	assert.False(t, errors.IsNotFound(fmt.Errorf("plain")))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, errors.IsValidation(errors.InvalidParam("x")))
	assert.True(t, errors.IsValidation(errors.New(errors.ErrCodeCoeffNonFinite, "x")))
	assert.False(t, errors.IsValidation(errors.Internal("x")))
	assert.False(t, errors.IsValidation(fmt.Errorf("plain")))
	assert.False(t, errors.IsValidation(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(fmt.Errorf("plain")))
	assert.Equal(t, errors.CodeConflict, errors.GetCode(errors.Conflict("dup")))
}

func TestAs_ReExport(t *testing.T) {
	var ae *errors.AppError
	require.True(t, errors.As(fmt.Errorf("w: %w", errors.Internal("x")), &ae))
	assert.Equal(t, errors.CodeInternal, ae.Code)
}
