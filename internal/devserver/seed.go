package devserver

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
)

//go:embed seed/*.json
var seedFS embed.FS

// scriptLine is one tutor line of the scripted conversation.
type scriptLine struct {
	ID        string        `json:"id"`
	Speaker   string        `json:"speaker"`
	Japanese  string        `json:"jp"`
	Korean    string        `json:"kr"`
	Suggested []learning.ID `json:"suggested,omitempty"`
}

// Seed is the content the server hands out.
type Seed struct {
	Today     []learning.Sentence
	Yesterday []learning.Sentence
	Script    []scriptLine
	Feedback  api.Feedback
}

// LoadSeed reads the bundled sample content.
func LoadSeed() (*Seed, error) {
	var s Seed
	files := []struct {
		name string
		dst  any
	}{
		{"seed/today.json", &s.Today},
		{"seed/yesterday.json", &s.Yesterday},
		{"seed/conversation.json", &s.Script},
		{"seed/feedback.json", &s.Feedback},
	}
	for _, f := range files {
		raw, err := seedFS.ReadFile(f.name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.name, err)
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	if len(s.Today) == 0 || len(s.Script) == 0 {
		return nil, fmt.Errorf("seed: empty sample content")
	}
	return &s, nil
}

// find looks a sentence up in both sets.
func (s *Seed) find(id learning.ID) (learning.Sentence, bool) {
	for _, set := range [][]learning.Sentence{s.Today, s.Yesterday} {
		for _, sen := range set {
			if sen.ID == id {
				return sen, true
			}
		}
	}
	return learning.Sentence{}, false
}
