package chat

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/kotoba-app/kotoba/internal/sse"
)

// Event types carried in the stream's "type" discriminator.
const (
	EventContent    = "content"
	EventAudio      = "audio"
	EventTurnInfo   = "turn_info"
	EventDone       = "done"
	EventSessionEnd = "session_end"
)

type contentPayload struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Delta   string `json:"delta"`
}

func (p contentPayload) fragment() string {
	return firstNonEmpty(p.Content, p.Text, p.Delta)
}

type audioPayload struct {
	Audio  string `json:"audio"`
	Data   string `json:"data"`
	MIME   string `json:"mime"`
	Format string `json:"format"`
}

// clip decodes the base64 payload. Servers differ on padding.
func (p audioPayload) clip() ([]byte, string, bool) {
	raw := firstNonEmpty(p.Audio, p.Data)
	if i := strings.Index(raw, ";base64,"); strings.HasPrefix(raw, "data:") && i > 0 {
		if p.MIME == "" {
			p.MIME = strings.TrimPrefix(raw[:i], "data:")
		}
		raw = raw[i+len(";base64,"):]
	}
	if raw == "" {
		return nil, "", false
	}
	mime := p.MIME
	if mime == "" && p.Format != "" {
		mime = "audio/" + p.Format
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil {
			return b, mime, true
		}
	}
	return nil, "", false
}

// turnCounts carries optional turn fields; nil means absent.
type turnCounts struct {
	CurrentTurn *int  `json:"current_turn"`
	MaxTurn     *int  `json:"max_turn"`
	IsCompleted *bool `json:"is_completed"`
}

func (t *turnCounts) merge(o turnCounts) {
	if o.CurrentTurn != nil {
		t.CurrentTurn = o.CurrentTurn
	}
	if o.MaxTurn != nil {
		t.MaxTurn = o.MaxTurn
	}
	if o.IsCompleted != nil {
		t.IsCompleted = o.IsCompleted
	}
}

// parseDone extracts turn counts from a done event. The summary may be an
// object or a JSON-encoded string under turn_summary, and counts may also
// sit at the top level; the summary wins.
func parseDone(ev sse.Event) turnCounts {
	var top struct {
		turnCounts
		Summary json.RawMessage `json:"turn_summary"`
	}
	if err := ev.Decode(&top); err != nil {
		return turnCounts{}
	}
	out := top.turnCounts

	summary := top.Summary
	var encoded string
	if json.Unmarshal(summary, &encoded) == nil {
		summary = json.RawMessage(encoded)
	}
	var nested turnCounts
	if len(summary) > 0 && json.Unmarshal(summary, &nested) == nil {
		out.merge(nested)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
