package wire_test

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/meshline/fabric/wire"
)

func TestWriteReadEnvelope(t *testing.T) {
	var buf bytes.Buffer
	env := wire.New("echo", map[string]any{"text": "hi"})

	if err := wire.WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := wire.ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Path != "echo" {
		t.Errorf("path = %q, want %q", got.Path, "echo")
	}
	if got.Kwargs["text"] != "hi" {
		t.Errorf("kwargs[text] = %v, want %q", got.Kwargs["text"], "hi")
	}
}

func TestReadFrameHeaderPadding(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("abc")
	if err := wire.WriteFrame(&buf, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.Bytes()
	if len(raw) != 13 {
		t.Fatalf("frame length = %d, want 13", len(raw))
	}
	if string(raw[:10]) != "0000000003" {
		t.Errorf("header = %q, want %q", raw[:10], "0000000003")
	}
}

func TestReadFrameEOFOnClose(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(nil))
	_, err := wire.ReadFrame(r)
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	envs := []wire.Envelope{
		wire.New("a", map[string]any{"x": 1}),
		wire.New("b", map[string]any{"y": 2}),
	}
	for _, e := range envs {
		if err := wire.WriteEnvelope(&buf, e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for _, want := range envs {
		got, err := wire.ReadEnvelope(r)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Path != want.Path {
			t.Errorf("path = %q, want %q", got.Path, want.Path)
		}
	}
}
