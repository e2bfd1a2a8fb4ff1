package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTP(t *testing.T) {
	assert.Equal(t, NotFound, ClassifyHTTP(404))
	assert.Equal(t, Transient, ClassifyHTTP(503))
	assert.Equal(t, Permanent, ClassifyHTTP(400))
	assert.Nil(t, ClassifyHTTP(200))
}

func TestWrapPreservesClassAndCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := Wrap(Transient, cause)

	assert.True(t, errors.Is(err, Transient))
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "socket reset")
}

func TestWrapNilCauseReturnsClass(t *testing.T) {
	err := Wrap(NotFound, nil)
	assert.Equal(t, NotFound, err)
}
