package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapMatchesByCode(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), ErrRateLimited.Code, ErrRateLimited.Status, "list repos")
	wrapped := fmt.Errorf("phase github: %w", err)

	assert.True(t, errors.Is(wrapped, ErrRateLimited))
	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.Equal(t, "list repos: boom", err.Error())
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	e := FromError(fmt.Errorf("plain"))
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.Nil(t, FromError(nil))

	clone := Clone(ErrConflict, "ledger entry exists")
	assert.Equal(t, "ledger entry exists", clone.Message)
	assert.Equal(t, "conflict", ErrConflict.Message)
}
