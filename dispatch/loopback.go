package dispatch

import (
	"context"
	"strings"
	"sync"
)

// pendingCall is a deferred re-entry into the dispatcher, enqueued by a
// handler that wants to post a message to its own root with internal
// authority after the current dispatch frame unwinds.
type pendingCall struct {
	path   []string
	kwargs map[string]any
}

// Loopback is embedded by any root that wants to re-enter the dispatcher
// with internal authority after the current dispatch frame returns,
// breaking the reentrancy a handler would otherwise hit if it tried to
// dispatch inline (SPEC_FULL.md §4.1's Loopback rationale). The owner
// must call Drain once after every top-level Dispatch call returns.
type Loopback struct {
	mu      sync.Mutex
	pending []pendingCall
}

// EnqueueLoopback schedules path.kwargs to be dispatched with
// AuthorityInternal on the next Drain call, strictly after the current
// dispatch frame unwinds.
func (l *Loopback) EnqueueLoopback(path string, kwargs map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, pendingCall{path: strings.Split(path, "."), kwargs: kwargs})
}

// Drain runs every pending loopback call against root, in enqueue order,
// each exactly once. It must be invoked after the enqueuing dispatch
// frame has fully returned, never from within a handler, so that a
// loopback call never recurses into the frame that scheduled it.
func (l *Loopback) Drain(ctx context.Context, root Dispatchable) []error {
	l.mu.Lock()
	calls := l.pending
	l.pending = nil
	l.mu.Unlock()

	var errs []error
	for _, c := range calls {
		if err := Dispatch(ctx, root, c.path, AuthorityInternal, c.kwargs); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
