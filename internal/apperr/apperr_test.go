package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	e := New(NotFound, "conversation not found")
	assert.Equal(t, "not_found: conversation not found", e.Error())

	f := Field(Validation, "content", "is required")
	assert.Equal(t, "validation: is required (content)", f.Error())
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := Wrap(Backend, "mongo insert failed", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestIsAndKindOf(t *testing.T) {
	e := New(Conflict, "already pinned")
	assert.True(t, Is(e, Conflict))
	assert.False(t, Is(e, Invariant))
	assert.Equal(t, Conflict, KindOf(e))

	plain := errors.New("not an apperr")
	assert.False(t, Is(plain, Conflict))
	assert.Equal(t, Backend, KindOf(plain))
}
