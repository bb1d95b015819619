package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelIdentityPreservedThroughWrapping(t *testing.T) {
	err := Wrap(ErrHostCall, "read_file")
	err = Wrapf(err, "extension %s", "demo")

	assert.True(t, Is(err, ErrHostCall))
	assert.False(t, Is(err, ErrLoad))
}

func TestNewLoadErrorKeepsClassAndCause(t *testing.T) {
	cause := New("syntax error at byte 12")
	err := NewLoadError(cause, "demo")

	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), "demo")
	assert.Contains(t, err.Error(), "syntax error at byte 12")
}

func TestNewLoadErrorWithNilCause(t *testing.T) {
	err := NewLoadError(nil, "demo")
	assert.True(t, IsLoadError(err))
	assert.Contains(t, err.Error(), "demo")
}

func TestNewHostCallError(t *testing.T) {
	cause := New("permission denied")
	err := NewHostCallError(cause, "write_file")

	assert.True(t, IsHostCallError(err))
	assert.Contains(t, err.Error(), "write_file")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("other")))
	assert.True(t, IsNotFoundError(NewNotFoundError("command %q not registered", "demo.hello")))
}

func TestTaxonomySentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrDiscovery, ErrLoad, ErrHostCall, ErrStreamProtocol, ErrToolExecution, ErrDisabled}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, Is(a, b), "sentinel %d should not match sentinel %d", i, j)
		}
	}
}
