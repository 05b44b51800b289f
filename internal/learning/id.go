package learning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies sentences, daily sets and chat sessions. The backend emits
// both strings and integers; every value is normalized to its decimal or
// literal string form when it is decoded, so comparisons are plain string
// comparisons.
type ID string

// IDFrom normalizes a loosely typed identifier value.
func IDFrom(v any) ID {
	switch x := v.(type) {
	case nil:
		return ""
	case ID:
		return x
	case string:
		return ID(x)
	case int:
		return ID(strconv.Itoa(x))
	case int64:
		return ID(strconv.FormatInt(x, 10))
	case float64:
		return ID(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return numberID(x.String())
	default:
		return ID(fmt.Sprint(x))
	}
}

func (id ID) String() string { return string(id) }

// Numeric reports whether the ID is a plain non-negative integer.
func (id ID) Numeric() bool {
	if id == "" || (len(id) > 1 && id[0] == '0') {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = numberID(n.String())
	return nil
}

// numberID renders a JSON number so that 6, 6.0 and 6e0 name the same ID.
func numberID(s string) ID {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(strconv.FormatInt(i, 10))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ID(s)
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64))
}

// MarshalJSON emits integer IDs as numbers, the shape the backend stores.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.Numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
