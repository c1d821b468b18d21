package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meshline/fabric/dispatch"
)

// obj is a small test root mirroring the fixture used by the source
// project's receiver unit tests: a chain of routers ending in a
// receiver, plus handlers at every authority level.
type obj struct {
	node          *dispatch.Node
	receivedA     int
	receivedB     string
	accumulator   []string
	childReceived bool
}

func newObj() *obj {
	o := &obj{}
	o.node = dispatch.NewNode().
		Route("meth_a", dispatch.AuthorityUser, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any, next dispatch.NextFunc) error {
			return next(o)
		}).
		Receive("meth_b", dispatch.AuthorityUser, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
			o.receivedA, _ = kwargs["a"].(int)
			o.receivedB, _ = kwargs["b"].(string)
			return nil
		}).
		Route("meth_z", dispatch.AuthorityNone, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any, next dispatch.NextFunc) error {
			return next(o)
		}).
		Receive("meth_x", dispatch.AuthorityNone, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
			o.childReceived = true
			return nil
		}).
		Receive("meth_g", dispatch.AuthorityInternal, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
			return nil
		}).
		Receive("meth_y", dispatch.AuthorityUserOrInternal, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
			return nil
		})
	return o
}

func (o *obj) Node() *dispatch.Node { return o.node }

func TestRoute(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_a", "meth_a", "meth_a", "meth_b"},
		dispatch.AuthorityUser, map[string]any{"a": 44, "b": "gg"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if o.receivedA != 44 || o.receivedB != "gg" {
		t.Errorf("got (%d,%q), want (44,gg)", o.receivedA, o.receivedB)
	}
}

func TestWrongPathExpectedRouter(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_b", "meth_a"}, dispatch.AuthorityUser, nil)
	if !errors.Is(err, dispatch.ErrExpectedRouter) {
		t.Fatalf("err = %v, want ErrExpectedRouter", err)
	}
}

func TestWrongPathExpectedReceiver(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_a", "meth_a"}, dispatch.AuthorityUser, nil)
	if !errors.Is(err, dispatch.ErrExpectedReceiver) {
		t.Fatalf("err = %v, want ErrExpectedReceiver", err)
	}
}

func TestNoSuchMember(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_nope"}, dispatch.AuthorityUser, nil)
	if !errors.Is(err, dispatch.ErrNoSuchMember) {
		t.Fatalf("err = %v, want ErrNoSuchMember", err)
	}
}

func TestPathAnnotation(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_a", "meth_a", "meth_b", "meth_b"},
		dispatch.AuthorityUser, map[string]any{"a": 1, "b": "x"})
	var perr *dispatch.PathError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PathError", err)
	}
	want := "meth_a.meth_a.|meth_b|.meth_b"
	if perr.Error()[len(perr.Error())-len(want):] != want {
		t.Errorf("annotated path = %q, want suffix %q", perr.Error(), want)
	}
}

func TestSignRequiredUser(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o,
		[]string{"meth_a", "meth_b"}, dispatch.AuthorityNone,
		map[string]any{"a": 1, "b": "x"})
	if !errors.Is(err, dispatch.ErrSign) {
		t.Fatalf("err = %v, want ErrSign", err)
	}

	err = dispatch.Dispatch(context.Background(), o,
		[]string{"meth_a", "meth_b"}, dispatch.AuthorityUser,
		map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("dispatch with correct sign: %v", err)
	}
}

func TestSignNoneAllowsAnything(t *testing.T) {
	o := newObj()
	if err := dispatch.Dispatch(context.Background(), o, []string{"meth_z", "meth_x"}, dispatch.AuthorityNone, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !o.childReceived {
		t.Error("expected meth_x to run")
	}
}

func TestSignInternalRequired(t *testing.T) {
	o := newObj()
	err := dispatch.Dispatch(context.Background(), o, []string{"meth_g"}, dispatch.AuthorityNone, nil)
	if !errors.Is(err, dispatch.ErrSign) {
		t.Fatalf("err = %v, want ErrSign", err)
	}
	if err := dispatch.Dispatch(context.Background(), o, []string{"meth_g"}, dispatch.AuthorityInternal, nil); err != nil {
		t.Fatalf("dispatch with internal sign: %v", err)
	}
}

func TestSignUserOrInternal(t *testing.T) {
	o := newObj()
	if err := dispatch.Dispatch(context.Background(), o, []string{"meth_y"}, dispatch.AuthorityUser, nil); err != nil {
		t.Fatalf("user sign: %v", err)
	}
	if err := dispatch.Dispatch(context.Background(), o, []string{"meth_y"}, dispatch.AuthorityInternal, nil); err != nil {
		t.Fatalf("internal sign: %v", err)
	}
	err := dispatch.Dispatch(context.Background(), o, []string{"meth_y"}, dispatch.AuthorityNone, nil)
	if !errors.Is(err, dispatch.ErrSign) {
		t.Fatalf("err = %v, want ErrSign", err)
	}
}

// proxyObj exercises the proxy fallback used to forward
// "location.<anything>" style suffixes.
type proxyObj struct {
	node    *dispatch.Node
	gotRest []string
	gotSign dispatch.Authority
}

func newProxyObj() *proxyObj {
	p := &proxyObj{node: dispatch.NewNode()}
	p.node.WithProxy(p)
	return p
}

func (p *proxyObj) Node() *dispatch.Node { return p.node }

func (p *proxyObj) ProxyMethod(ctx context.Context, rest []string, sign dispatch.Authority, kwargs map[string]any) error {
	p.gotRest = rest
	p.gotSign = sign
	return nil
}

func TestProxyFallback(t *testing.T) {
	p := newProxyObj()
	err := dispatch.Dispatch(context.Background(), p, []string{"move_to", "loc_Y"}, dispatch.AuthorityUser, map[string]any{"target_location": "loc_Y"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(p.gotRest) != 2 || p.gotRest[0] != "move_to" || p.gotRest[1] != "loc_Y" {
		t.Errorf("gotRest = %v", p.gotRest)
	}
	if p.gotSign != dispatch.AuthorityUser {
		t.Errorf("gotSign = %v, want AuthorityUser", p.gotSign)
	}
}

func TestLoopbackRunsAfterFrameReturns(t *testing.T) {
	var lb dispatch.Loopback
	order := []string{}

	root := newObj()
	root.node.Receive("post", dispatch.AuthorityUser, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
		order = append(order, "handler-start")
		lb.EnqueueLoopback("meth_g", nil)
		order = append(order, "handler-end")
		return nil
	})
	// meth_g normally requires internal sign; redefine to observe it ran.
	root.node.Receive("meth_g", dispatch.AuthorityInternal, func(ctx context.Context, dc *dispatch.Context, kwargs map[string]any) error {
		order = append(order, "loopback-ran")
		return nil
	})

	if err := dispatch.Dispatch(context.Background(), root, []string{"post"}, dispatch.AuthorityUser, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	order = append(order, "frame-returned")
	errs := lb.Drain(context.Background(), root)
	if len(errs) != 0 {
		t.Fatalf("drain errors: %v", errs)
	}

	want := []string{"handler-start", "handler-end", "frame-returned", "loopback-ran"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
