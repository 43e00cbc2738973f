package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := New(KindConfirmationConflict, "slot %s taken", "08:00")
	wrapped := fmt.Errorf("confirm: %w", base)

	assert.Equal(t, KindConfirmationConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConfirmationConflict))
	assert.False(t, Is(wrapped, KindValidation))
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "load appointment")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INTERNAL: load appointment: connection reset", err.Error())
	assert.False(t, err.Expected())
	assert.True(t, Validation("bad").Expected())
}

func TestIsExpected(t *testing.T) {
	assert.True(t, IsExpected(fmt.Errorf("confirm: %w", New(KindConfirmationConflict, "taken"))))
	assert.False(t, IsExpected(Internal(errors.New("io"), "save")))
	assert.False(t, IsExpected(errors.New("boom")))
	assert.False(t, IsExpected(nil))
}
