package api

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// flexID accepts identifiers the backend sends either as numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	*f = flexID(s)
	return nil
}

// characterRef marshals numeric persona ids as JSON numbers, which is what
// the backend's integer primary keys expect.
type characterRef string

func (c characterRef) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(c), 10, 64); err == nil {
		return []byte(c), nil
	}
	return sonic.Marshal(string(c))
}

// flexTime accepts unix seconds, unix milliseconds or RFC 3339 strings.
type flexTime int64 // unix milliseconds

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 1e12 {
			n *= 1000
		}
		*t = flexTime(int64(n))
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, unq); err == nil {
				*t = flexTime(ts.UnixMilli())
				return nil
			}
		}
	}
	// unparseable timestamps are not fatal
	*t = 0
	return nil
}

// listPayload decodes either a bare JSON array or an object wrapping it
// under one of keys.
func listPayload[T any](payload []byte, keys ...string) ([]T, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var items []T
		if err := sonic.Unmarshal(payload, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapper map[string]json.RawMessage
	if err := sonic.Unmarshal(payload, &wrapper); err != nil {
		return nil, err
	}
	for _, k := range keys {
		raw, ok := wrapper[k]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var items []T
		if err := sonic.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return nil, nil
}
