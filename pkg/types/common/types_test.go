package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID_Validate_ValidUUID(t *testing.T) {
	id := ID("550e8400-e29b-41d4-a716-446655440000")
	assert.NoError(t, id.Validate())
}

func TestID_Validate_EmptyString(t *testing.T) {
	err := ID("").Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestID_Validate_InvalidFormat(t *testing.T) {
	err := ID("not-a-uuid").Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ID format")
}

func TestNewID_GeneratesValidUUID(t *testing.T) {
	id := NewID()
	assert.NoError(t, id.Validate())
	assert.NotEqual(t, id, NewID())
}

func TestPagination_Normalize(t *testing.T) {
	cases := []struct {
		in, want Pagination
	}{
		{Pagination{}, Pagination{Page: 1, PageSize: DefaultPageSize}},
		{Pagination{Page: 3, PageSize: 10}, Pagination{Page: 3, PageSize: 10}},
		{Pagination{Page: -2, PageSize: 10000}, Pagination{Page: 1, PageSize: MaxPageSize}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.Normalize())
	}
}

func TestPagination_Offset(t *testing.T) {
	assert.Equal(t, 0, Pagination{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, Pagination{Page: 3, PageSize: 20}.Offset())
}
