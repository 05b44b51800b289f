// Package chat runs streaming conversation-practice sessions.
package chat

import (
	"time"

	"github.com/kotoba-app/kotoba/internal/playback"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateTopicSelection means no session exists yet.
	StateTopicSelection State = iota
	StateActive
	// StateCompleted is entered when the server reports the conversation
	// is over.
	StateCompleted
	// StateEnded is entered when the user ends the session.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateEnded:
		return "ended"
	}
	return "topic_selection"
}

// Closed reports whether the session accepts no more turns.
func (s State) Closed() bool { return s == StateCompleted || s == StateEnded }

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FailureNotice replaces an assistant reply that failed to stream.
const FailureNotice = "Sorry, the reply could not be loaded. Please try again."

// Message is one chat bubble.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Streaming bool
	Failed    bool
	Audio     *playback.Clip
	CreatedAt time.Time
}

// HasAudio reports whether the message carries a replayable clip.
func (m Message) HasAudio() bool { return m.Audio != nil && len(m.Audio.Data) > 0 }
