package pages

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func noopRender(*RenderContext, io.Writer) error { return nil }

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "beta", Render: noopRender}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(Metadata{Key: "Alpha", Render: noopRender, ContentType: "text/plain"}); err != nil {
		t.Fatalf("register alpha failed: %v", err)
	}

	meta, ok := Resolve("BETA")
	if !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	if meta.ContentType != DefaultContentType {
		t.Fatalf("expected default content type, got %q", meta.ContentType)
	}

	keys := Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if _, ok := Resolve(""); ok {
		t.Fatalf("empty key must not resolve")
	}
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "page", Render: noopRender}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Metadata{Key: "page", Render: noopRender}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Metadata{Key: " ", Render: noopRender}); err == nil {
		t.Fatalf("blank key should fail")
	}
	if err := Register(Metadata{Key: "norender"}); err == nil {
		t.Fatalf("missing renderer should fail")
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	MustRegister(Metadata{Key: "dup", Render: noopRender})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate MustRegister")
		}
	}()
	MustRegister(Metadata{Key: "dup", Render: noopRender})
}

type recordingRunner struct {
	keys []string
}

func (r *recordingRunner) Run(_ context.Context, w io.Writer, key string, _ time.Duration, fill func(io.Writer) error) error {
	r.keys = append(r.keys, key)
	return fill(w)
}

func TestRenderContextFragment(t *testing.T) {
	boom := errors.New("boom")
	fill := func(w io.Writer) error {
		_, err := io.WriteString(w, "part")
		return err
	}

	var buf bytes.Buffer
	rc := &RenderContext{Context: context.Background()}
	if err := rc.Fragment(&buf, "k", time.Minute, fill); err != nil || buf.String() != "part" {
		t.Fatalf("fragment without runner should fill directly: %v %q", err, buf.String())
	}

	runner := &recordingRunner{}
	rc.Fragments = runner
	buf.Reset()
	if err := rc.Fragment(&buf, "k2", time.Minute, fill); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.keys) != 1 || runner.keys[0] != "k2" {
		t.Fatalf("runner not used: %v", runner.keys)
	}
	if err := rc.Fragment(&buf, "k3", time.Minute, func(io.Writer) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fill error to propagate, got %v", err)
	}
}
