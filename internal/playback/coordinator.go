// Package playback owns the single audio resource of a screen: at most one
// clip plays at a time.
package playback

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Clip is an opaque audio payload.
type Clip struct {
	Data []byte
	MIME string // e.g. "audio/mpeg"; empty when unknown
}

// Output renders clips. Play blocks until the clip ends or ctx is cancelled.
type Output interface {
	Play(ctx context.Context, clip Clip) error
}

// Coordinator plays one clip at a time, identified by a caller-chosen key
// such as a message or sentence ID.
type Coordinator struct {
	out    Output
	logger *zap.Logger

	mu       sync.Mutex
	key      string
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
	onChange func(playing string)
}

// New creates a coordinator. A nil output discards audio.
func New(out Output, logger *zap.Logger) *Coordinator {
	if out == nil {
		out = Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{out: out, logger: logger}
}

// OnChange registers a callback fired whenever the playing key changes,
// including when a clip ends on its own. It runs without the lock held.
func (c *Coordinator) OnChange(fn func(playing string)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Toggle stops key if it is playing, otherwise stops whatever is playing
// and starts clip under key. It reports whether key is playing afterwards.
func (c *Coordinator) Toggle(key string, clip Clip) bool {
	c.mu.Lock()
	if c.key == key && c.cancel != nil {
		notify := c.stopLocked()
		c.mu.Unlock()
		notify()
		return false
	}
	c.mu.Unlock()
	return c.Play(key, clip)
}

// Play stops the current clip and starts clip under key. It reports false
// when the coordinator is closed.
func (c *Coordinator) Play(key string, clip Clip) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.stopLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.key = key
	c.cancel = cancel
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(key)
	}
	go c.run(ctx, gen, key, clip)
	return true
}

func (c *Coordinator) run(ctx context.Context, gen uint64, key string, clip Clip) {
	err := c.out.Play(ctx, clip)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		c.logger.Warn("audio playback failed", zap.String("key", key), zap.Error(err))
	}

	c.mu.Lock()
	if c.gen != gen {
		// Superseded by Stop or another Play.
		c.mu.Unlock()
		return
	}
	c.key = ""
	c.cancel = nil
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn("")
	}
}

// stopLocked cancels the current clip and returns the change notification
// to run once the lock is released.
func (c *Coordinator) stopLocked() func() {
	if c.cancel == nil {
		return func() {}
	}
	c.cancel()
	c.cancel = nil
	c.key = ""
	c.gen++
	fn := c.onChange
	return func() {
		if fn != nil {
			fn("")
		}
	}
}

// Stop stops the current clip, if any.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	notify := c.stopLocked()
	c.mu.Unlock()
	notify()
}

// Playing returns the key of the playing clip, or "".
func (c *Coordinator) Playing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Close stops playback and refuses further clips.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.onChange = nil
	c.stopLocked()
	c.mu.Unlock()
}
