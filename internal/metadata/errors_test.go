package metadata

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func TestClassifyToolError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		output string
		want   FailureKind
	}{
		{
			name: "tool not installed",
			err:  fmt.Errorf("run: %w", exec.ErrNotFound),
			want: FailureToolMissing,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: FailureTimeout,
		},
		{
			name:   "permission denied in stderr",
			err:    errors.New("exit status 1"),
			output: "Error: Permission denied - /library/locked.jpg",
			want:   FailurePermission,
		},
		{
			name:   "corrupt file",
			err:    errors.New("exit status 1"),
			output: "Error: Not a valid JPG (looks more like a TXT)",
			want:   FailureCorrupted,
		},
		{
			name:   "truncated video",
			err:    errors.New("exit status 1"),
			output: "moov atom not found",
			want:   FailureCorrupted,
		},
		{
			name:   "invalid data",
			err:    errors.New("exit status 1"),
			output: "Invalid data found when processing input",
			want:   FailureCorrupted,
		},
		{
			name:   "unknown failure defaults to unsupported",
			err:    errors.New("exit status 2"),
			output: "something odd happened",
			want:   FailureUnsupported,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyToolError("exiftool read", "/x.jpg", tt.err, tt.output)
			if got.Kind != tt.want {
				t.Errorf("classifyToolError() kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("outer: %w", &Error{Kind: FailureTimeout, Op: "op", Path: "/x", Err: errors.New("inner")})
	if got := KindOf(wrapped); got != FailureTimeout {
		t.Errorf("KindOf(wrapped) = %s, want %s", got, FailureTimeout)
	}
	if got := KindOf(errors.New("plain")); got != FailureUnsupported {
		t.Errorf("KindOf(plain) = %s, want %s", got, FailureUnsupported)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("inner")
	err := &Error{Kind: FailureCorrupted, Op: "op", Path: "/x", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}
}
