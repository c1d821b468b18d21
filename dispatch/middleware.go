package dispatch

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"
)

// SafeDispatch wraps Dispatch with panic recovery and duration/outcome
// logging, in the manner of the teacher framework's Recovery and Logging
// middleware. Per SPEC_FULL.md §7, "handler exceptions are caught at the
// dispatch root, logged, not propagated to the event loop" — this is
// that root.
func SafeDispatch(ctx context.Context, root Dispatchable, path []string, sign Authority, kwargs map[string]any) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("[dispatch] PANIC recovered path=%s: %v\n%s", joinPath(path), r, buf[:n])
			err = fmt.Errorf("dispatch: panic recovered: %v", r)
		}
		elapsed := time.Since(start)
		if err != nil {
			log.Printf("[dispatch] ERROR path=%s elapsed=%s err=%v", joinPath(path), elapsed, err)
		} else {
			log.Printf("[dispatch] OK    path=%s elapsed=%s", joinPath(path), elapsed)
		}
	}()
	return Dispatch(ctx, root, path, sign, kwargs)
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
