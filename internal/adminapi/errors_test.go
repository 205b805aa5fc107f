package adminapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchError_Is(t *testing.T) {
	err := fmt.Errorf("load page: %w", &FetchError{Kind: KindServerError, Status: 500, Message: "boom"})

	assert.ErrorIs(t, err, ErrServerError)
	assert.NotErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, &FetchError{Kind: KindServerError, Status: 500})
	assert.NotErrorIs(t, err, &FetchError{Kind: KindServerError, Status: 404})
}

func TestKindOf(t *testing.T) {
	k, ok := KindOf(fmt.Errorf("wrap: %w", NewServiceUnavailable()))
	assert.True(t, ok)
	assert.Equal(t, KindServiceUnavailable, k)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.True(t, IsKind(NewValidationError("empty"), KindValidation))
	assert.False(t, IsKind(nil, KindValidation))
}

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		err  *FetchError
		want string
	}{
		{&FetchError{Kind: KindServerError, Status: 500, Message: "db down"}, "server_error: http 500: db down"},
		{&FetchError{Kind: KindTimeout, Message: "request timed out", Attempts: 3}, "timeout: request timed out (after 3 attempts)"},
		{&FetchError{Kind: KindNetwork, Err: errors.New("refused")}, "network: refused"},
		{&FetchError{Kind: KindValidation}, "validation: validation"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindNetwork.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindServerError.Retryable())
	assert.False(t, KindUnauthorized.Retryable())
	assert.False(t, KindServiceUnavailable.Retryable())
	assert.False(t, KindValidation.Retryable())
}

func TestParseBulkAction(t *testing.T) {
	a, err := ParseBulkAction("reject")
	assert.NoError(t, err)
	assert.Equal(t, BulkReject, a)
	assert.Equal(t, "bulk-reject", a.Endpoint())

	_, err = ParseBulkAction("explode")
	assert.True(t, IsKind(err, KindValidation))
}
