package metadata

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// FailureKind classifies why a metadata operation failed. Every error
// leaving this package carries exactly one kind; callers branch on the
// kind, never on message text.
type FailureKind string

const (
	// FailureCorrupted means the file content is damaged or not what
	// its extension claims.
	FailureCorrupted FailureKind = "corrupted"
	// FailureUnsupported means the format cannot carry the requested
	// metadata, or the tool does not understand it.
	FailureUnsupported FailureKind = "unsupported"
	// FailurePermission means the file or its directory denied access.
	FailurePermission FailureKind = "permission"
	// FailureTimeout means the external tool exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureToolMissing means the external tool binary is not
	// installed.
	FailureToolMissing FailureKind = "tool-missing"
)

// Error is a classified metadata failure.
type Error struct {
	Kind FailureKind
	Op   string // tool operation, e.g. "exiftool write"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failed for %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err. Unclassified errors
// report FailureUnsupported, the catch-all of the taxonomy.
func KindOf(err error) FailureKind {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return FailureUnsupported
}

// classifyToolError wraps an external tool failure with a kind derived
// from the error chain and, as a last resort, the tool's diagnostic
// output. Tool stderr is the only place some failure modes are
// visible, so inspecting it here keeps string matching out of every
// call site.
func classifyToolError(op, path string, err error, output string) *Error {
	kind := FailureUnsupported

	switch {
	case errors.Is(err, exec.ErrNotFound):
		kind = FailureToolMissing
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	default:
		lower := strings.ToLower(output + " " + err.Error())
		switch {
		case strings.Contains(lower, "permission denied"):
			kind = FailurePermission
		case strings.Contains(lower, "not a valid"),
			strings.Contains(lower, "corrupt"),
			strings.Contains(lower, "invalid data"),
			strings.Contains(lower, "moov atom"),
			strings.Contains(lower, "truncated"):
			kind = FailureCorrupted
		}
	}

	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
