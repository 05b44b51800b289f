package learning

import (
	"encoding/json"
	"strings"
)

// FillBlank is a multiple-choice question with exactly one correct option.
type FillBlank struct {
	Kind     string   `json:"kind,omitempty"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// UnmarshalJSON also reads the prompt from question_jp, the key the backend
// uses.
func (f *FillBlank) UnmarshalJSON(b []byte) error {
	type plain FillBlank
	var w struct {
		plain
		QuestionJP string `json:"question_jp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = FillBlank(w.plain)
	f.Question = firstNonEmpty(f.Question, w.QuestionJP)
	return nil
}

// Ordering asks the learner to rebuild a sentence from shuffled fragments.
// CorrectOrder lists fragment indices in canonical order.
type Ordering struct {
	Question     string   `json:"question,omitempty"`
	Fragments    []string `json:"fragments"`
	CorrectOrder []int    `json:"correct_order"`
}

// Quiz holds the optional sub-quizzes of a sentence.
type Quiz struct {
	FillBlank *FillBlank `json:"fill_blank,omitempty"`
	Ordering  *Ordering  `json:"ordering,omitempty"`
}

// HasAny reports whether at least one sub-quiz is present.
func (q Quiz) HasAny() bool {
	return q.FillBlank != nil || q.Ordering != nil
}

type quizWire struct {
	FillBlank *FillBlank `json:"fill_blank"`
	Ordering  *Ordering  `json:"ordering"`

	// Single-question shape: {type, question, options, answer}.
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// UnmarshalJSON accepts the structured {fill_blank, ordering} shape and the
// older single-question shape where type is meaning, blank or order.
func (q *Quiz) UnmarshalJSON(b []byte) error {
	var w quizWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*q = Quiz{FillBlank: w.FillBlank, Ordering: w.Ordering}
	if q.HasAny() || len(w.Options) == 0 {
		return nil
	}
	switch w.Type {
	case "order":
		q.Ordering = &Ordering{
			Question:     w.Question,
			Fragments:    w.Options,
			CorrectOrder: orderFromAnswer(w.Options, w.Answer),
		}
	default:
		q.FillBlank = &FillBlank{
			Kind:     w.Type,
			Question: w.Question,
			Options:  w.Options,
			Answer:   w.Answer,
		}
	}
	return nil
}

// orderFromAnswer maps a space separated answer back onto fragment indices.
// It returns nil when the answer cannot be expressed with the fragments.
func orderFromAnswer(fragments []string, answer string) []int {
	tokens := strings.Fields(answer)
	if len(tokens) != len(fragments) {
		return nil
	}
	used := make([]bool, len(fragments))
	order := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		found := -1
		for i, f := range fragments {
			if !used[i] && f == tok {
				found = i
				break
			}
		}
		if found < 0 {
			return nil
		}
		used[found] = true
		order = append(order, found)
	}
	return order
}

// QuizSubmission is the body of a quiz submit call.
type QuizSubmission struct {
	SentenceID      ID     `json:"sentence_id"`
	DailySetID      ID     `json:"daily_set_id,omitempty"`
	FillBlankAnswer string `json:"fill_blank_answer,omitempty"`
	OrderingAnswer  []int  `json:"ordering_answer,omitempty"`
}

// QuizResult is the backend verdict on a submission.
type QuizResult struct {
	AllCorrect       bool  `json:"all_correct"`
	Memorized        bool  `json:"memorized"`
	FillBlankCorrect *bool `json:"fill_blank_correct,omitempty"`
	OrderingCorrect  *bool `json:"ordering_correct,omitempty"`
}
