// Package dispatch implements the fabric's routed message-dispatch
// engine (component C1): it walks a dotted path of named handlers on a
// root object, enforcing authority at every step, and supports
// router -> ... -> router -> receiver chains as well as a proxy
// catch-all and deferred loopback re-entry. See SPEC_FULL.md §4.1.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Dispatch walks path against root, starting at index 0, enforcing sign
// at each resolved handler. kwargs is shared across the whole chain
// (routers and the terminal receiver all see the same map), matching the
// source semantics where kwargs flows unchanged down the path.
func Dispatch(ctx context.Context, root Dispatchable, path []string, sign Authority, kwargs map[string]any) error {
	if len(path) == 0 {
		return fmt.Errorf("dispatch: empty path")
	}
	dc := &Context{Sign: sign, Kwargs: kwargs}
	return step(ctx, dc, root, path, kwargs, 0)
}

func step(ctx context.Context, dc *Context, obj Dispatchable, path []string, kwargs map[string]any, index int) error {
	name := path[index]
	maxIndex := len(path) - 1
	node := obj.Node()

	if r, ok := node.receivers[name]; ok {
		if index != maxIndex {
			return pathErr(ErrExpectedRouter, path, index)
		}
		if !Admits(r.required, dc.Sign) {
			return pathErr(fmt.Errorf("%w: %s requires %s", ErrSign, name, r.required), path, index)
		}
		if err := r.fn(ctx, dc, kwargs); err != nil {
			return pathErr(err, path, index)
		}
		return nil
	}

	if r, ok := node.routers[name]; ok {
		if index == maxIndex {
			return pathErr(ErrExpectedReceiver, path, index)
		}
		if !Admits(r.required, dc.Sign) {
			return pathErr(fmt.Errorf("%w: %s requires %s", ErrSign, name, r.required), path, index)
		}
		next := func(child Dispatchable) error {
			return step(ctx, dc, child, path, kwargs, index+1)
		}
		if err := r.fn(ctx, dc, kwargs, next); err != nil {
			// A failure further down the path already carries its own
			// annotated segment; keep that one instead of re-annotating.
			var perr *PathError
			if errors.As(err, &perr) {
				return err
			}
			return pathErr(err, path, index)
		}
		return nil
	}

	if node.proxy != nil {
		rest := path[index:]
		if err := node.proxy.ProxyMethod(ctx, rest, dc.Sign, kwargs); err != nil {
			return pathErr(err, path, index)
		}
		return nil
	}

	return pathErr(fmt.Errorf("%w: %s", ErrNoSuchMember, name), path, index)
}
