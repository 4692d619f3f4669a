package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKapErrorMessage(t *testing.T) {
	err := NewClientInputError("missing file payload", nil)
	assert.Equal(t, "[client_input] missing file payload", err.Error())

	wrapped := NewFileSystemError("write failed", fmt.Errorf("disk full"))
	assert.Equal(t, "[filesystem] write failed: disk full", wrapped.Error())
	assert.EqualError(t, wrapped.Unwrap(), "disk full")
}

func TestPredicatesFollowWrapping(t *testing.T) {
	base := NewNotFoundError("no such file", nil)
	wrapped := fmt.Errorf("generate preview: %w", base)

	assert.True(t, IsNotFoundError(wrapped))
	assert.False(t, IsClientInputError(wrapped))
	assert.Equal(t, NotFoundError, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(fmt.Errorf("plain")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "client input", err: NewClientInputError("bad", nil), want: http.StatusBadRequest},
		{name: "not found", err: NewNotFoundError("gone", nil), want: http.StatusBadRequest},
		{name: "capability", err: NewCapabilityUnavailable("no watcher", nil), want: http.StatusServiceUnavailable},
		{name: "filesystem", err: NewFileSystemError("eperm", nil), want: http.StatusInternalServerError},
		{name: "external tool", err: NewExternalToolError("exit 1", nil), want: http.StatusInternalServerError},
		{name: "untyped", err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestWithContext(t *testing.T) {
	err := NewExternalToolError("convert failed", nil).
		WithContext("exit_code", 1).
		WithContext("tool", "convert")

	assert.Equal(t, 1, err.Context["exit_code"])
	assert.Equal(t, "convert", err.Context["tool"])
	assert.True(t, IsExternalToolError(err))
}
