package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// member is one object member in document order. encoding/json maps lose the
// order, and last-write-wins depends on it.
type member struct {
	key string
	raw json.RawMessage
}

func readObject(raw []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode member %q: %w", key, err)
		}
		members = append(members, member{key: key, raw: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

func readArray(raw []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("expected array, got %v", tok)
	}
	var elems []json.RawMessage
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return elems, nil
}

// lookup returns the last member named key; later duplicates win.
func lookup(members []member, key string) (json.RawMessage, bool) {
	var (
		found json.RawMessage
		ok    bool
	)
	for _, m := range members {
		if m.key == key {
			found, ok = m.raw, true
		}
	}
	return found, ok
}

func kindOf(raw []byte) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func scalar(raw []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// parseYear accepts a JSON integer, an integral float, or a string beginning
// with a digit run ("2022", "2021-07-25").
func parseYear(raw []byte) (int, bool) {
	v, ok := scalar(raw)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	case string:
		s := strings.TrimSpace(t)
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// parseValue accepts a JSON number or a numeric string; the result is finite.
func parseValue(raw []byte) (float64, bool) {
	v, ok := scalar(raw)
	if !ok {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseString(raw []byte) (string, bool) {
	v, ok := scalar(raw)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
