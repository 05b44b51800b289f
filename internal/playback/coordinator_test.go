package playback

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

// gatedOutput plays until released or cancelled.
type gatedOutput struct {
	mu       sync.Mutex
	started  chan string
	released map[string]chan struct{}
}

func newGatedOutput() *gatedOutput {
	return &gatedOutput{started: make(chan string, 8), released: map[string]chan struct{}{}}
}

func (g *gatedOutput) gate(name string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.released[name]
	if !ok {
		ch = make(chan struct{})
		g.released[name] = ch
	}
	return ch
}

func (g *gatedOutput) Play(ctx context.Context, clip Clip) error {
	name := string(clip.Data)
	g.started <- name
	select {
	case <-g.gate(name):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestToggleSemantics(t *testing.T) {
	out := newGatedOutput()
	c := New(out, nil)
	defer c.Close()

	if !c.Toggle("m1", Clip{Data: []byte("a")}) {
		t.Fatal("m1 should start")
	}
	<-out.started
	if c.Playing() != "m1" {
		t.Fatalf("playing = %q", c.Playing())
	}

	// Different key switches.
	if !c.Toggle("m2", Clip{Data: []byte("b")}) {
		t.Fatal("m2 should start")
	}
	<-out.started
	if c.Playing() != "m2" {
		t.Fatalf("playing = %q", c.Playing())
	}

	// Same key stops.
	if c.Toggle("m2", Clip{Data: []byte("b")}) {
		t.Fatal("m2 should stop")
	}
	if c.Playing() != "" {
		t.Fatalf("playing = %q", c.Playing())
	}
}

func TestNaturalEndClearsMarker(t *testing.T) {
	out := newGatedOutput()
	c := New(out, nil)
	defer c.Close()

	var mu sync.Mutex
	var changes []string
	c.OnChange(func(k string) {
		mu.Lock()
		changes = append(changes, k)
		mu.Unlock()
	})

	c.Play("s1", Clip{Data: []byte("x")})
	<-out.started
	close(out.gate("x"))

	waitFor(t, func() bool { return c.Playing() == "" })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if changes[0] != "s1" || changes[1] != "" {
		t.Fatalf("changes = %q", changes)
	}
}

func TestSupersededClipDoesNotClearNewMarker(t *testing.T) {
	out := newGatedOutput()
	c := New(out, nil)
	defer c.Close()

	c.Play("old", Clip{Data: []byte("old")})
	<-out.started
	c.Play("new", Clip{Data: []byte("new")})
	<-out.started

	// The cancelled "old" goroutine finishes after "new" started.
	time.Sleep(5 * time.Millisecond)
	if c.Playing() != "new" {
		t.Fatalf("playing = %q", c.Playing())
	}
}

func TestCloseRefusesPlay(t *testing.T) {
	c := New(nil, nil)
	c.Close()
	if c.Play("k", Clip{}) {
		t.Fatal("closed coordinator played")
	}
	if c.Playing() != "" {
		t.Fatal("marker set after close")
	}
}

func TestCommandOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses cp")
	}
	dir := t.TempDir()
	dst := filepath.Join(dir, "copy.mp3")
	out := &CommandOutput{Command: []string{"sh", "-c", `cp "$0" ` + dst}, TempDir: dir}

	if err := out.Play(context.Background(), Clip{Data: []byte("ID3"), MIME: "audio/mpeg"}); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "ID3" {
		t.Fatalf("copied %q, %v", got, err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "kotoba-*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left: %v", matches)
	}
}

func TestNewCommandOutput(t *testing.T) {
	if NewCommandOutput("  ") != Discard {
		t.Fatal("empty command should discard")
	}
	o, ok := NewCommandOutput("mpv --no-video").(*CommandOutput)
	if !ok || len(o.Command) != 2 {
		t.Fatalf("output = %#v", o)
	}
}
