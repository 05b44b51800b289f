// Package quiz evaluates fill-blank and ordering answers and decides when a
// sentence may be memorized.
package quiz

import "github.com/kotoba-app/kotoba/internal/learning"

// EvaluateFillBlank reports whether selected is exactly the answer. No
// whitespace or case normalization is applied.
func EvaluateFillBlank(fb *learning.FillBlank, selected string) bool {
	if fb == nil {
		return false
	}
	return selected == fb.Answer
}

// Canonical returns the fragments in correct order, or false when the
// correct order does not describe a permutation of the fragments.
func Canonical(o *learning.Ordering) ([]string, bool) {
	if o == nil || len(o.CorrectOrder) == 0 {
		return nil, false
	}
	out := make([]string, len(o.CorrectOrder))
	for i, idx := range o.CorrectOrder {
		if idx < 0 || idx >= len(o.Fragments) {
			return nil, false
		}
		out[i] = o.Fragments[idx]
	}
	return out, true
}

// EvaluateOrdering reports whether submitted equals the canonical sequence
// element by element. Partial submissions are false.
func EvaluateOrdering(o *learning.Ordering, submitted []string) bool {
	want, ok := Canonical(o)
	if !ok || len(submitted) != len(want) {
		return false
	}
	for i := range want {
		if submitted[i] != want[i] {
			return false
		}
	}
	return true
}

// IsFullyQuizzed reports whether every present sub-quiz was answered
// correctly. A quiz without sub-quizzes is never fully quizzed.
func IsFullyQuizzed(q learning.Quiz, fillBlankOK, orderingOK bool) bool {
	if !q.HasAny() {
		return false
	}
	if q.FillBlank != nil && !fillBlankOK {
		return false
	}
	if q.Ordering != nil && !orderingOK {
		return false
	}
	return true
}

// OrderingIndices maps submitted fragments back to their indices. Repeated
// fragments consume distinct indices left to right. Unknown pieces map to -1.
func OrderingIndices(o *learning.Ordering, pieces []string) []int {
	if o == nil {
		return nil
	}
	used := make([]bool, len(o.Fragments))
	out := make([]int, len(pieces))
	for i, p := range pieces {
		out[i] = -1
		for j, f := range o.Fragments {
			if !used[j] && f == p {
				used[j] = true
				out[i] = j
				break
			}
		}
	}
	return out
}

// FragmentsAt is the inverse of OrderingIndices.
func FragmentsAt(o *learning.Ordering, indices []int) []string {
	if o == nil {
		return nil
	}
	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(o.Fragments) {
			out = append(out, "")
			continue
		}
		out = append(out, o.Fragments[idx])
	}
	return out
}
