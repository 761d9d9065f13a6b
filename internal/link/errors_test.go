package link

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "timeout", ErrTimeout.Error())
	assert.Equal(t, "not_found: no hub in range", Errorf(NotFound, "no hub in range").Error())

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Errorf(Timeout, "scan expired after 10s")

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("connect failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrTimeout))
	assert.Equal(t, Timeout, KindOf(wrapped))
}

func TestKindOfNonLinkError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain error")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want *Error
	}{
		{
			name: "deadline exceeded maps to timeout",
			in:   errors.New("ble: context deadline exceeded"),
			want: ErrTimeout,
		},
		{
			name: "device not connected",
			in:   errors.New("can't write: Device Not Connected"),
			want: ErrNotConnected,
		},
		{
			name: "connection canceled",
			in:   errors.New("connection canceled by peer"),
			want: ErrNotConnected,
		},
		{
			name: "permission denied",
			in:   errors.New("hci: operation requires permission"),
			want: ErrPermissionDenied,
		},
		{
			name: "not authorized",
			in:   errors.New("adapter not authorized"),
			want: ErrPermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.True(t, errors.Is(got, tt.want))
			// Original context preserved
			assert.Contains(t, got.Error(), tt.in.Error())
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		err := errors.New("something else")
		assert.Equal(t, err, NormalizeError(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})
}
