package remoteviews

import (
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"
)

var jsonAPI = sonic.Config{
	UseNumber:        true,
	EscapeHTML:       true,
	CopyString:       true,
	ValidateString:   true,
	SortMapKeys:      true,
	NoNullSliceOrMap: false,
}.Froze()

// DecodeRequest parses a render request. Numbers in state become int64
// when integral and float64 otherwise, so engines print 100 rather than
// 100.000000.
func DecodeRequest(b []byte) (RenderRequest, error) {
	var req RenderRequest
	if err := jsonAPI.Unmarshal(b, &req); err != nil {
		return RenderRequest{}, err
	}
	for k, v := range req.State {
		req.State[k] = normalizeNumbers(v)
	}
	if req.Template.EngineOptions != nil {
		for k, v := range req.Template.EngineOptions {
			req.Template.EngineOptions[k] = normalizeNumbers(v)
		}
	}
	return req, nil
}

// parseLenient decodes a JSON document, or returns ok=false when the body
// does not look like or parse as one.
func parseLenient(body []byte) (any, bool, error) {
	s := strings.TrimSpace(string(body))
	if !strings.ContainsAny(s, "{[") {
		return nil, false, nil
	}
	var v any
	if err := jsonAPI.UnmarshalFromString(s, &v); err != nil {
		return nil, false, err
	}
	return normalizeNumbers(v), true, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
