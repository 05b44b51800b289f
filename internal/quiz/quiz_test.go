package quiz

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/progress"
)

func TestEvaluateFillBlank_ExactMatch(t *testing.T) {
	fb := &learning.FillBlank{Options: []string{"ライブ", "学校"}, Answer: "ライブ"}
	tests := []struct {
		selected string
		want     bool
	}{
		{"ライブ", true},
		{"学校", false},
		{"ライブ ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := EvaluateFillBlank(fb, tt.selected); got != tt.want {
			t.Errorf("EvaluateFillBlank(%q) = %v, want %v", tt.selected, got, tt.want)
		}
	}
	if EvaluateFillBlank(nil, "ライブ") {
		t.Error("nil fill-blank must never be correct")
	}
}

func TestEvaluateOrdering(t *testing.T) {
	o := &learning.Ordering{Fragments: []string{"A", "B", "C"}, CorrectOrder: []int{2, 0, 1}}
	tests := []struct {
		name      string
		submitted []string
		want      bool
	}{
		{"canonical", []string{"C", "A", "B"}, true},
		{"fragment order", []string{"A", "B", "C"}, false},
		{"partial", []string{"C", "A"}, false},
		{"too long", []string{"C", "A", "B", "B"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateOrdering(o, tt.submitted); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateOrdering_OutOfRangeIndex(t *testing.T) {
	o := &learning.Ordering{Fragments: []string{"A", "B"}, CorrectOrder: []int{0, 5}}
	if EvaluateOrdering(o, []string{"A", "B"}) {
		t.Fatal("an out-of-range correct order must be unanswerable")
	}
}

func TestEvaluators_ArePure(t *testing.T) {
	o := &learning.Ordering{Fragments: []string{"A", "B", "C"}, CorrectOrder: []int{2, 0, 1}}
	submitted := []string{"C", "A", "B"}
	before := *o
	beforeOrder := append([]int(nil), o.CorrectOrder...)
	beforeSub := append([]string(nil), submitted...)

	first := EvaluateOrdering(o, submitted)
	second := EvaluateOrdering(o, submitted)
	if first != second {
		t.Fatal("ordering evaluation is not idempotent")
	}
	if !reflect.DeepEqual(before.Fragments, o.Fragments) || !reflect.DeepEqual(beforeOrder, o.CorrectOrder) {
		t.Fatal("ordering quiz mutated")
	}
	if !reflect.DeepEqual(beforeSub, submitted) {
		t.Fatal("submission mutated")
	}

	fb := &learning.FillBlank{Answer: "B", Options: []string{"A", "B"}}
	if EvaluateFillBlank(fb, "B") != EvaluateFillBlank(fb, "B") {
		t.Fatal("fill-blank evaluation is not idempotent")
	}
	if fb.Answer != "B" || len(fb.Options) != 2 {
		t.Fatal("fill-blank quiz mutated")
	}
}

func TestIsFullyQuizzed(t *testing.T) {
	fb := &learning.FillBlank{Answer: "x"}
	or := &learning.Ordering{Fragments: []string{"a"}, CorrectOrder: []int{0}}
	tests := []struct {
		name     string
		quiz     learning.Quiz
		fill, or bool
		want     bool
	}{
		{"none", learning.Quiz{}, true, true, false},
		{"fill only ok", learning.Quiz{FillBlank: fb}, true, false, true},
		{"fill only missing", learning.Quiz{FillBlank: fb}, false, true, false},
		{"both ok", learning.Quiz{FillBlank: fb, Ordering: or}, true, true, true},
		{"both, ordering missing", learning.Quiz{FillBlank: fb, Ordering: or}, true, false, false},
		{"ordering only ok", learning.Quiz{Ordering: or}, false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFullyQuizzed(tt.quiz, tt.fill, tt.or); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderingIndices(t *testing.T) {
	o := &learning.Ordering{Fragments: []string{"a", "b", "a"}}
	got := OrderingIndices(o, []string{"a", "a", "b", "z"})
	want := []int{0, 2, 1, -1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if back := FragmentsAt(o, []int{1, 0}); !reflect.DeepEqual(back, []string{"b", "a"}) {
		t.Fatalf("FragmentsAt = %v", back)
	}
}

func fillOnlySentence() learning.Sentence {
	return learning.Sentence{
		ID:       "s1",
		Japanese: "推しのライブに行きたいです。",
		Quiz: learning.Quiz{FillBlank: &learning.FillBlank{
			Question: "＿",
			Options:  []string{"A", "B"},
			Answer:   "B",
		}},
	}
}

func TestAttempt_MemorizationViaQuiz(t *testing.T) {
	store := progress.New(progress.Options{})
	sentence := fillOnlySentence()

	if got := store.Get("s1").Status; got != learning.StatusNotStarted {
		t.Fatalf("initial status = %s", got)
	}
	if got := store.SetStep("s1", learning.StepUnderstand, true).Status; got != learning.StatusInProgress {
		t.Fatalf("after understand = %s", got)
	}
	if got := store.SetStep("s1", learning.StepSpeak, true).Status; got != learning.StatusInProgress {
		t.Fatalf("after speak = %s", got)
	}

	a := NewAttempt(sentence, store, AttemptOptions{RetryDelay: time.Hour})
	defer a.Close()

	ok, err := a.AnswerFillBlank("A")
	if err != nil || ok {
		t.Fatalf("answer A = %v, %v", ok, err)
	}
	p := store.Get("s1")
	if p.Check || p.Status != learning.StatusInProgress {
		t.Fatalf("wrong answer changed progress: %+v", p)
	}

	ok, err = a.AnswerFillBlank("B")
	if err != nil || !ok {
		t.Fatalf("answer B = %v, %v", ok, err)
	}
	if !store.Get("s1").Check {
		t.Fatal("check step not set after correct answer")
	}
	if !IsFullyQuizzed(sentence.Quiz, a.State().FillBlank == MarkCorrect, false) {
		t.Fatal("expected fully quizzed")
	}

	p, err = a.Memorize(context.Background())
	if err != nil {
		t.Fatalf("memorize: %v", err)
	}
	if p.Status != learning.StatusMemorized {
		t.Fatalf("status = %s, want memorized", p.Status)
	}
	if _, err := a.Memorize(context.Background()); !errors.Is(err, ErrAlreadyMemorized) {
		t.Fatalf("second memorize err = %v", err)
	}
}

func TestAttempt_IncorrectResetsAfterDelay(t *testing.T) {
	store := progress.New(progress.Options{})
	changed := make(chan struct{}, 1)
	a := NewAttempt(fillOnlySentence(), store, AttemptOptions{
		RetryDelay: 5 * time.Millisecond,
		OnChange:   func() { changed <- struct{}{} },
	})
	defer a.Close()

	if ok, _ := a.AnswerFillBlank("A"); ok {
		t.Fatal("expected incorrect")
	}
	if st := a.State(); st.FillBlank != MarkIncorrect || st.FillSelected != "A" {
		t.Fatalf("state = %+v", st)
	}

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("reset never fired")
	}
	if st := a.State(); st.FillBlank != MarkIdle || st.FillSelected != "" {
		t.Fatalf("state after reset = %+v", st)
	}
}

func TestAttempt_NoQuizBlocksMemorization(t *testing.T) {
	store := progress.New(progress.Options{})
	a := NewAttempt(learning.Sentence{ID: "s9"}, store, AttemptOptions{})
	for _, step := range learning.Steps {
		store.SetStep("s9", step, true)
	}
	if _, err := a.Memorize(context.Background()); !errors.Is(err, ErrNoQuiz) {
		t.Fatalf("err = %v, want ErrNoQuiz", err)
	}
	if _, err := a.AnswerFillBlank("x"); !errors.Is(err, ErrNoQuiz) {
		t.Fatalf("err = %v, want ErrNoQuiz", err)
	}
	if store.Get("s9").Memorized() {
		t.Fatal("sentence without quiz was memorized")
	}
}

func TestAttempt_IncompleteWhenOrderingMissing(t *testing.T) {
	s := fillOnlySentence()
	s.Quiz.Ordering = &learning.Ordering{Fragments: []string{"x", "y"}, CorrectOrder: []int{1, 0}}
	store := progress.New(progress.Options{})
	a := NewAttempt(s, store, AttemptOptions{})
	defer a.Close()

	a.AnswerFillBlank("B")
	if store.Get("s1").Check {
		t.Fatal("check set before ordering answered")
	}
	if _, err := a.Memorize(context.Background()); !errors.Is(err, ErrQuizIncomplete) {
		t.Fatalf("err = %v, want ErrQuizIncomplete", err)
	}
	if ok, _ := a.AnswerOrdering([]string{"y", "x"}); !ok {
		t.Fatal("expected ordering correct")
	}
	if !a.Ready() || !store.Get("s1").Check || !store.Get("s1").QuizCompleted {
		t.Fatal("expected ready with check and quiz_completed set")
	}
}

type fakeSubmitter struct {
	calls atomic.Int32
	last  learning.QuizSubmission
	res   *learning.QuizResult
	err   error
}

func (f *fakeSubmitter) SubmitQuiz(_ context.Context, sub learning.QuizSubmission) (*learning.QuizResult, error) {
	f.calls.Add(1)
	f.last = sub
	return f.res, f.err
}

func TestAttempt_SubmitFailurePropagates(t *testing.T) {
	store := progress.New(progress.Options{})
	sub := &fakeSubmitter{err: errors.New("503")}
	a := NewAttempt(fillOnlySentence(), store, AttemptOptions{Submitter: sub})
	defer a.Close()

	a.AnswerFillBlank("B")
	_, err := a.Memorize(context.Background())
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("err = %v, want SubmitError", err)
	}
	if store.Get("s1").Memorized() {
		t.Fatal("memorized despite failed submission")
	}
	if sub.last.FillBlankAnswer != "B" {
		t.Fatalf("submitted answer = %q", sub.last.FillBlankAnswer)
	}
}

func TestAttempt_SubmitRejected(t *testing.T) {
	store := progress.New(progress.Options{})
	sub := &fakeSubmitter{res: &learning.QuizResult{AllCorrect: false}}
	a := NewAttempt(fillOnlySentence(), store, AttemptOptions{Submitter: sub})
	defer a.Close()

	a.AnswerFillBlank("B")
	if _, err := a.Memorize(context.Background()); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestAttempt_SubmitSendsOrderingIndices(t *testing.T) {
	s := learning.Sentence{ID: "s4", Quiz: learning.Quiz{Ordering: &learning.Ordering{
		Fragments:    []string{"始めますか", "どこから", "聖地巡礼は"},
		CorrectOrder: []int{2, 1, 0},
	}}}
	store := progress.New(progress.Options{})
	sub := &fakeSubmitter{res: &learning.QuizResult{AllCorrect: true}}
	a := NewAttempt(s, store, AttemptOptions{Submitter: sub})
	defer a.Close()

	a.AnswerOrdering([]string{"聖地巡礼は", "どこから", "始めますか"})
	p, err := a.Memorize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Memorized() {
		t.Fatal("expected memorized")
	}
	if !reflect.DeepEqual(sub.last.OrderingAnswer, []int{2, 1, 0}) {
		t.Fatalf("ordering answer = %v", sub.last.OrderingAnswer)
	}
	if sub.calls.Load() != 1 {
		t.Fatalf("submit calls = %d", sub.calls.Load())
	}
}
