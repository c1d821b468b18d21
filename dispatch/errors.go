package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSuchMember is returned when a path segment names no router,
// receiver, or proxy on the current object.
var ErrNoSuchMember = errors.New("dispatch: no such member")

// ErrForbidden is returned when a path segment names a method that is
// neither tagged as a router nor a receiver.
var ErrForbidden = errors.New("dispatch: forbidden")

// ErrExpectedRouter is returned when the path has more segments to walk
// but the resolved handler is a terminal receiver.
var ErrExpectedRouter = errors.New("dispatch: expected router")

// ErrExpectedReceiver is returned when the path is exhausted but the
// resolved handler is a router.
var ErrExpectedReceiver = errors.New("dispatch: expected receiver")

// ErrSign is returned when the dispatch's authority does not satisfy a
// handler's required authority.
var ErrSign = errors.New("dispatch: sign error")

// PathError wraps one of the sentinel errors above with the full path,
// the failing segment highlighted with pipes, matching SPEC_FULL.md
// §4.1's error-reporting contract exactly
// (e.g. "meth_a.meth_a.|meth_b|.meth_b.meth_b.meth_a").
type PathError struct {
	Err   error
	Path  []string
	Index int
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, annotatePath(e.Path, e.Index))
}

func (e *PathError) Unwrap() error { return e.Err }

func annotatePath(path []string, index int) string {
	segs := make([]string, len(path))
	copy(segs, path)
	if index >= 0 && index < len(segs) {
		segs[index] = "|" + segs[index] + "|"
	}
	return strings.Join(segs, ".")
}

func pathErr(err error, path []string, index int) error {
	return &PathError{Err: err, Path: path, Index: index}
}
