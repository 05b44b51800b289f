package quiz

import (
	"errors"
	"fmt"

	"github.com/kotoba-app/kotoba/internal/learning"
)

var (
	// ErrNoQuiz means the sentence has no quiz, so it cannot be memorized
	// through the quiz path.
	ErrNoQuiz = errors.New("sentence has no quiz")

	// ErrQuizIncomplete means at least one present sub-quiz has not been
	// answered correctly yet.
	ErrQuizIncomplete = errors.New("quiz not completed")

	// ErrAlreadyMemorized means there is nothing left to do.
	ErrAlreadyMemorized = errors.New("sentence already memorized")
)

// SubmitError wraps a failed quiz submission. The learner must be told
// that the attempt did not register.
type SubmitError struct {
	SentenceID learning.ID
	Err        error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit quiz for %s: %v", e.SentenceID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
