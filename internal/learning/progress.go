package learning

import (
	"encoding/json"
	"fmt"
)

// Step is one of the three learning stages of a sentence.
type Step string

const (
	StepUnderstand Step = "understand"
	StepSpeak      Step = "speak"
	StepCheck      Step = "check"
)

// Steps lists the stages in the order a learner completes them.
var Steps = []Step{StepUnderstand, StepSpeak, StepCheck}

// ParseStep accepts the local step names and the backend alias "confirm".
func ParseStep(s string) (Step, error) {
	switch s {
	case "understand":
		return StepUnderstand, nil
	case "speak":
		return StepSpeak, nil
	case "check", "confirm":
		return StepCheck, nil
	}
	return "", fmt.Errorf("unknown step %q", s)
}

// Valid reports whether s is one of the canonical steps. The alias
// "confirm" is not; pass it through ParseStep first.
func (s Step) Valid() bool {
	switch s {
	case StepUnderstand, StepSpeak, StepCheck:
		return true
	}
	return false
}

// WireName is the field name the backend uses for the step.
func (s Step) WireName() string {
	if s == StepCheck {
		return "confirm"
	}
	return string(s)
}

// Status summarizes a sentence's progress.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusMemorized  Status = "memorized"
)

// SentenceProgress is the learner's state for one sentence. Memorized
// implies every step flag is set and never reverts.
type SentenceProgress struct {
	Status        Status `json:"status"`
	Understand    bool   `json:"understand"`
	Speak         bool   `json:"speak"`
	Check         bool   `json:"confirm"`
	QuizCompleted bool   `json:"quiz_completed"`
}

// NewProgress returns a fresh not-started entry.
func NewProgress() SentenceProgress {
	return SentenceProgress{Status: StatusNotStarted}
}

// Memorized reports whether the sentence has been memorized.
func (p SentenceProgress) Memorized() bool { return p.Status == StatusMemorized }

// Step returns the flag for the given step.
func (p SentenceProgress) Step(s Step) bool {
	switch s {
	case StepUnderstand:
		return p.Understand
	case StepSpeak:
		return p.Speak
	case StepCheck:
		return p.Check
	}
	return false
}

// WithStep returns a copy with the given step flag set.
func (p SentenceProgress) WithStep(s Step, v bool) SentenceProgress {
	switch s {
	case StepUnderstand:
		p.Understand = v
	case StepSpeak:
		p.Speak = v
	case StepCheck:
		p.Check = v
	}
	return p
}

// AllSteps reports whether every step flag is set.
func (p SentenceProgress) AllSteps() bool {
	return p.Understand && p.Speak && p.Check
}

// ProgressRecord is the per-sentence shape of a progress snapshot.
type ProgressRecord struct {
	SentenceID    ID   `json:"sentence_id"`
	Understand    bool `json:"understand"`
	Speak         bool `json:"speak"`
	Confirm       bool `json:"confirm"`
	Memorized     bool `json:"memorized"`
	QuizCompleted bool `json:"quiz_completed"`
}

// Progress converts a server record into local progress, deriving status.
func (r ProgressRecord) Progress() SentenceProgress {
	p := SentenceProgress{
		Understand:    r.Understand,
		Speak:         r.Speak,
		Check:         r.Confirm,
		QuizCompleted: r.QuizCompleted,
	}
	switch {
	case r.Memorized:
		p.Status = StatusMemorized
		p.Understand, p.Speak, p.Check = true, true, true
	case p.Understand || p.Speak || p.Check || p.QuizCompleted:
		p.Status = StatusInProgress
	default:
		p.Status = StatusNotStarted
	}
	return p
}

// ProgressUpdate is a partial progress write. Only the non-nil flags are
// sent, so concurrent writes for different fields do not clobber each other.
type ProgressUpdate struct {
	SentenceID    ID    `json:"sentence_id"`
	DailySetID    ID    `json:"daily_set_id,omitempty"`
	Understand    *bool `json:"understand,omitempty"`
	Speak         *bool `json:"speak,omitempty"`
	Confirm       *bool `json:"confirm,omitempty"`
	Memorized     *bool `json:"memorized,omitempty"`
	QuizCompleted *bool `json:"quiz_completed,omitempty"`
}

// StepUpdate builds the update for a single step change.
func StepUpdate(id ID, s Step, v bool) ProgressUpdate {
	u := ProgressUpdate{SentenceID: id}
	switch s {
	case StepUnderstand:
		u.Understand = &v
	case StepSpeak:
		u.Speak = &v
	case StepCheck:
		u.Confirm = &v
	}
	return u
}

// Fields lists the flags carried by the update, for logging.
func (u ProgressUpdate) Fields() []string {
	var out []string
	add := func(name string, v *bool) {
		if v != nil {
			out = append(out, fmt.Sprintf("%s=%t", name, *v))
		}
	}
	add("understand", u.Understand)
	add("speak", u.Speak)
	add("confirm", u.Confirm)
	add("memorized", u.Memorized)
	add("quiz_completed", u.QuizCompleted)
	return out
}

// String renders the update as compact JSON.
func (u ProgressUpdate) String() string {
	b, _ := json.Marshal(u)
	return string(b)
}
