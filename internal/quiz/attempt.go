package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kotoba-app/kotoba/internal/learning"
)

// DefaultRetryDelay is how long an incorrect answer stays visible before
// the attempt resets so the learner can retry.
const DefaultRetryDelay = time.Second

// ErrRejected means the backend did not accept an answer the client
// evaluated as correct.
var ErrRejected = errors.New("quiz answer rejected")

// Progress is the subset of the progress store an attempt drives.
type Progress interface {
	Get(id learning.ID) learning.SentenceProgress
	SetStep(id learning.ID, step learning.Step, completed bool) learning.SentenceProgress
	MarkMemorized(id learning.ID) learning.SentenceProgress
	MarkQuizCompleted(id learning.ID) learning.SentenceProgress
	DailySetID() learning.ID
}

// Submitter sends a finished quiz to the backend and awaits the verdict.
type Submitter interface {
	SubmitQuiz(ctx context.Context, sub learning.QuizSubmission) (*learning.QuizResult, error)
}

// Mark is the state of one sub-quiz within an attempt.
type Mark int

const (
	MarkIdle Mark = iota
	MarkCorrect
	MarkIncorrect
)

func (m Mark) String() string {
	switch m {
	case MarkCorrect:
		return "correct"
	case MarkIncorrect:
		return "incorrect"
	}
	return "idle"
}

// AttemptState is a snapshot for rendering.
type AttemptState struct {
	FillBlank      Mark
	FillSelected   string
	Ordering       Mark
	OrderSubmitted []string
}

// AttemptOptions configures an Attempt.
type AttemptOptions struct {
	Submitter  Submitter
	RetryDelay time.Duration

	// OnChange is called after a transient incorrect mark resets.
	OnChange func()
}

// Attempt tracks one learner's answers to one sentence's quiz. Correct
// answers latch for the lifetime of the attempt.
type Attempt struct {
	sentence  learning.Sentence
	progress  Progress
	submitter Submitter
	delay     time.Duration
	onChange  func()

	mu         sync.Mutex
	state      AttemptState
	fillAnswer string
	orderTimer *time.Timer
	fillTimer  *time.Timer
}

// NewAttempt starts an attempt for sentence.
func NewAttempt(sentence learning.Sentence, progress Progress, opts AttemptOptions) *Attempt {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Attempt{
		sentence:  sentence,
		progress:  progress,
		submitter: opts.Submitter,
		delay:     delay,
		onChange:  opts.OnChange,
	}
}

// State returns a copy of the current marks.
func (a *Attempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state
	st.OrderSubmitted = append([]string(nil), a.state.OrderSubmitted...)
	return st
}

// AnswerFillBlank evaluates a selected option.
func (a *Attempt) AnswerFillBlank(selected string) (bool, error) {
	fb := a.sentence.Quiz.FillBlank
	if fb == nil {
		return false, fmt.Errorf("fill-blank: %w", ErrNoQuiz)
	}
	correct := EvaluateFillBlank(fb, selected)

	a.mu.Lock()
	if a.state.FillBlank == MarkCorrect {
		a.mu.Unlock()
		return correct, nil
	}
	a.state.FillSelected = selected
	if correct {
		a.state.FillBlank = MarkCorrect
		a.fillAnswer = selected
	} else {
		a.state.FillBlank = MarkIncorrect
		a.fillTimer = a.scheduleReset(a.fillTimer, func() {
			if a.state.FillBlank == MarkIncorrect {
				a.state.FillBlank = MarkIdle
				a.state.FillSelected = ""
			}
		})
	}
	a.mu.Unlock()

	if correct {
		a.afterCorrect()
	}
	return correct, nil
}

// AnswerOrdering evaluates a submitted fragment sequence.
func (a *Attempt) AnswerOrdering(submitted []string) (bool, error) {
	o := a.sentence.Quiz.Ordering
	if o == nil {
		return false, fmt.Errorf("ordering: %w", ErrNoQuiz)
	}
	correct := EvaluateOrdering(o, submitted)

	a.mu.Lock()
	if a.state.Ordering == MarkCorrect {
		a.mu.Unlock()
		return correct, nil
	}
	a.state.OrderSubmitted = append([]string(nil), submitted...)
	if correct {
		a.state.Ordering = MarkCorrect
	} else {
		a.state.Ordering = MarkIncorrect
		a.orderTimer = a.scheduleReset(a.orderTimer, func() {
			if a.state.Ordering == MarkIncorrect {
				a.state.Ordering = MarkIdle
				a.state.OrderSubmitted = nil
			}
		})
	}
	a.mu.Unlock()

	if correct {
		a.afterCorrect()
	}
	return correct, nil
}

// scheduleReset must be called with a.mu held.
func (a *Attempt) scheduleReset(prev *time.Timer, reset func()) *time.Timer {
	if prev != nil {
		prev.Stop()
	}
	return time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		reset()
		a.mu.Unlock()
		if a.onChange != nil {
			a.onChange()
		}
	})
}

// afterCorrect sets the check step once every present sub-quiz is correct.
func (a *Attempt) afterCorrect() {
	if !a.Ready() {
		return
	}
	id := a.sentence.ID
	if a.progress.Get(id).Memorized() {
		return
	}
	a.progress.SetStep(id, learning.StepCheck, true)
	a.progress.MarkQuizCompleted(id)
}

// Ready reports whether every present sub-quiz has been answered correctly.
func (a *Attempt) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return IsFullyQuizzed(a.sentence.Quiz,
		a.state.FillBlank == MarkCorrect,
		a.state.Ordering == MarkCorrect)
}

// Memorize submits the finished quiz and marks the sentence memorized.
// Without a submitter the transition is local only.
func (a *Attempt) Memorize(ctx context.Context) (learning.SentenceProgress, error) {
	id := a.sentence.ID
	if p := a.progress.Get(id); p.Memorized() {
		return p, ErrAlreadyMemorized
	}
	if !a.sentence.Quiz.HasAny() {
		return a.progress.Get(id), ErrNoQuiz
	}
	if !a.Ready() {
		return a.progress.Get(id), ErrQuizIncomplete
	}

	if a.submitter != nil {
		a.mu.Lock()
		sub := learning.QuizSubmission{
			SentenceID:      id,
			DailySetID:      a.progress.DailySetID(),
			FillBlankAnswer: a.fillAnswer,
		}
		if o := a.sentence.Quiz.Ordering; o != nil {
			sub.OrderingAnswer = OrderingIndices(o, a.state.OrderSubmitted)
		}
		a.mu.Unlock()

		res, err := a.submitter.SubmitQuiz(ctx, sub)
		if err != nil {
			return a.progress.Get(id), &SubmitError{SentenceID: id, Err: err}
		}
		if res != nil && !res.AllCorrect && !res.Memorized {
			return a.progress.Get(id), &SubmitError{SentenceID: id, Err: ErrRejected}
		}
	}

	if p := a.progress.Get(id); p.Memorized() {
		return p, nil
	}
	return a.progress.MarkMemorized(id), nil
}

// Close stops pending reset timers.
func (a *Attempt) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fillTimer != nil {
		a.fillTimer.Stop()
	}
	if a.orderTimer != nil {
		a.orderTimer.Stop()
	}
}
