package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorage_WrapsAndUnwraps(t *testing.T) {
	base := errors.New("database is locked")
	err := Storage("insert session", base)

	assert.True(t, IsStorage(err))
	assert.ErrorIs(t, err, base)

	var se *StorageError
	if assert.ErrorAs(t, err, &se) {
		assert.True(t, se.Retryable())
	}
}

func TestStorage_NilStaysNil(t *testing.T) {
	assert.NoError(t, Storage("noop", nil))
}

func TestStorage_KeepsNotFound(t *testing.T) {
	err := Storage("get session", NotFound("session", "s1"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsStorage(err))
}

func TestClassifiers_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("check: %w", Degraded("registry lookup", errors.New("timeout")))
	assert.True(t, IsDegraded(wrapped))
	assert.False(t, IsValidation(wrapped))

	v := fmt.Errorf("decode: %w", Validation("session_id", "must not be empty"))
	assert.True(t, IsValidation(v))
	assert.Contains(t, v.Error(), `"session_id"`)
}
