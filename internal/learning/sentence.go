package learning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Word is a single vocabulary gloss attached to a sentence.
type Word struct {
	Term    string `json:"term"`
	Reading string `json:"reading,omitempty"`
	Meaning string `json:"meaning"`
}

// GrammarNote explains one pattern used by a sentence.
type GrammarNote struct {
	Pattern     string `json:"pattern,omitempty"`
	Description string `json:"description"`
}

// Example is an additional sentence using the same pattern.
type Example struct {
	Japanese string `json:"japanese"`
	Reading  string `json:"reading,omitempty"`
	Meaning  string `json:"meaning,omitempty"`
}

// Sentence is one entry of a daily set. Sentences are immutable once
// fetched; a new day's set replaces them wholesale.
type Sentence struct {
	ID         ID            `json:"id"`
	Japanese   string        `json:"japanese"`
	Reading    string        `json:"reading,omitempty"`
	Meaning    string        `json:"meaning"`
	Romaji     string        `json:"romaji,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Categories []int         `json:"categories,omitempty"`
	Words      []Word        `json:"words,omitempty"`
	Grammar    []GrammarNote `json:"grammar,omitempty"`
	Examples   []Example     `json:"examples,omitempty"`
	Memorized  bool          `json:"memorized,omitempty"`
	Quiz       Quiz          `json:"quiz"`
}

type sentenceWire struct {
	ID         ID              `json:"id"`
	SentenceID ID              `json:"sentence_id"`
	Japanese   string          `json:"japanese"`
	JP         string          `json:"jp"`
	Reading    string          `json:"reading"`
	Furigana   string          `json:"furigana"`
	Meaning    string          `json:"meaning"`
	KR         string          `json:"kr"`
	Romaji     string          `json:"romaji"`
	Tags       []string        `json:"tags"`
	Categories []int           `json:"categories"`
	Words      []Word          `json:"words"`
	Grammar    json.RawMessage `json:"grammar"`
	Examples   json.RawMessage `json:"examples"`
	Memorized  bool            `json:"memorized"`
	Quiz       *Quiz           `json:"quiz"`
}

// UnmarshalJSON accepts every field alias the backend and the bundled
// sample data use (jp/japanese, kr/meaning, reading/furigana).
func (s *Sentence) UnmarshalJSON(b []byte) error {
	var w sentenceWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	grammar, err := decodeGrammar(w.Grammar)
	if err != nil {
		return fmt.Errorf("sentence %s grammar: %w", w.ID, err)
	}
	examples, err := decodeExamples(w.Examples)
	if err != nil {
		return fmt.Errorf("sentence %s examples: %w", w.ID, err)
	}
	*s = Sentence{
		ID:         firstID(w.ID, w.SentenceID),
		Japanese:   firstNonEmpty(w.Japanese, w.JP),
		Reading:    firstNonEmpty(w.Reading, w.Furigana),
		Meaning:    firstNonEmpty(w.Meaning, w.KR),
		Romaji:     w.Romaji,
		Tags:       w.Tags,
		Categories: w.Categories,
		Words:      w.Words,
		Grammar:    grammar,
		Examples:   examples,
		Memorized:  w.Memorized,
	}
	if w.Quiz != nil {
		s.Quiz = *w.Quiz
	}
	return nil
}

// Grammar arrives as a single object, a list of objects, or a list of
// plain strings depending on the endpoint.
func decodeGrammar(raw json.RawMessage) ([]GrammarNote, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		var n GrammarNote
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return []GrammarNote{n}, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []GrammarNote{{Description: s}}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	notes := make([]GrammarNote, 0, len(items))
	for _, item := range items {
		n, err := decodeGrammar(item)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n...)
	}
	return notes, nil
}

func decodeExamples(raw json.RawMessage) ([]Example, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]Example, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, err
			}
			out = append(out, Example{Japanese: s})
			continue
		}
		var e struct {
			Japanese string `json:"japanese"`
			JP       string `json:"jp"`
			Reading  string `json:"reading"`
			Meaning  string `json:"meaning"`
			KR       string `json:"kr"`
		}
		if err := json.Unmarshal(item, &e); err != nil {
			return nil, err
		}
		out = append(out, Example{
			Japanese: firstNonEmpty(e.Japanese, e.JP),
			Reading:  e.Reading,
			Meaning:  firstNonEmpty(e.Meaning, e.KR),
		})
	}
	return out, nil
}

// DailySet is the fixed group of sentences assigned for one day.
type DailySet struct {
	ID        ID         `json:"daily_set_id"`
	Date      string     `json:"date,omitempty"`
	Sentences []Sentence `json:"sentences"`
}

// Find returns the sentence with the given ID.
func (d DailySet) Find(id ID) (Sentence, bool) {
	for _, s := range d.Sentences {
		if s.ID == id {
			return s, true
		}
	}
	return Sentence{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstID(ids ...ID) ID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
