package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(CodeSequencing, "body already sent (%d bytes)", 12)
	assert.Equal(t, "SEQUENCING: body already sent (12 bytes)", err.Error())

	wrapped := Wrap(CodeConnection, errors.New("broken pipe"), "write header")
	assert.Equal(t, "CONNECTION: write header: broken pipe", wrapped.Error())
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := New(CodeInternal, "resource has no child")
	err := fmt.Errorf("reconstruct studies: %w", base)

	assert.True(t, IsInternal(err))
	assert.False(t, IsSequencing(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestIs_NilAndForeign(t *testing.T) {
	assert.False(t, IsValidation(nil))
	assert.False(t, IsValidation(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeConnection, cause, "send")
	assert.ErrorIs(t, err, cause)
}
