package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnrecognizedEnvelope is returned when a response body matches none of
// the known shapes.
var ErrUnrecognizedEnvelope = errors.New("unrecognized response envelope")

const excerptLen = 200

// DecodeList extracts an array from a response body. It accepts a bare
// array or an object holding the array under one of keys (default "data"),
// tried in order. A JSON null, bare or under a key, is an empty list.
func DecodeList(raw json.RawMessage, keys ...string) ([]json.RawMessage, error) {
	if len(keys) == 0 {
		keys = []string{"data"}
	}
	body := bytes.TrimSpace(raw)

	switch {
	case isNull(body):
		return nil, nil
	case len(body) > 0 && body[0] == '[':
		return decodeArray(body)
	case len(body) > 0 && body[0] == '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedEnvelope, err)
		}
		for _, key := range keys {
			v, ok := obj[key]
			if !ok {
				continue
			}
			v = bytes.TrimSpace(v)
			if isNull(v) {
				return nil, nil
			}
			if len(v) > 0 && v[0] == '[' {
				return decodeArray(v)
			}
			return nil, fmt.Errorf("%w: %q is not an array: %s", ErrUnrecognizedEnvelope, key, excerpt(body))
		}
	}
	return nil, fmt.Errorf("%w: expected array: %s", ErrUnrecognizedEnvelope, excerpt(body))
}

// DecodeObject extracts an object from a response body. It accepts an
// object wrapped in a "data" member or the object itself.
func DecodeObject(raw json.RawMessage) (json.RawMessage, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected object: %s", ErrUnrecognizedEnvelope, excerpt(body))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedEnvelope, err)
	}
	if v, ok := obj["data"]; ok {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '{' {
			return v, nil
		}
	}
	return body, nil
}

// ProjectPage is one page of the project listing.
type ProjectPage struct {
	Projects []json.RawMessage
	Total    int
}

// DecodeProjectPage accepts {projects:[..], total}, {data:[..], total} or a
// bare array.
func DecodeProjectPage(raw json.RawMessage) (ProjectPage, error) {
	items, err := DecodeList(raw, "projects", "data")
	if err != nil {
		return ProjectPage{}, err
	}
	page := ProjectPage{Projects: items}

	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '{' {
		var meta struct {
			Total json.Number `json:"total"`
		}
		if err := json.Unmarshal(body, &meta); err == nil && meta.Total != "" {
			if n, err := meta.Total.Int64(); err == nil {
				page.Total = int(n)
			}
		}
	}
	return page, nil
}

func decodeArray(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedEnvelope, err)
	}
	return items, nil
}

func isNull(b []byte) bool {
	return bytes.Equal(b, []byte("null"))
}

func excerpt(b []byte) string {
	if len(b) > excerptLen {
		return string(b[:excerptLen]) + "..."
	}
	return string(b)
}
