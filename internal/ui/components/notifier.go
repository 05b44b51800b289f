package components

import (
	"sync"

	tea "charm.land/bubbletea/v2"
)

// Notifier turns callbacks fired on other goroutines into Bubble Tea
// messages. Bursts of notifications collapse into one message.
type Notifier struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1), done: make(chan struct{})}
}

// Notify never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait returns a command that delivers msg on the next notification. The
// screen re-issues it after handling msg.
func (n *Notifier) Wait(msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-n.ch:
			return msg
		case <-n.done:
			return nil
		}
	}
}

// Close releases pending Wait commands.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.done) })
}
