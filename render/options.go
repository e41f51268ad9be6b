package render

import "strings"

// engineOptions is the subset of per-request options the Go-template based
// engines understand.
type engineOptions struct {
	strict     bool
	leftDelim  string
	rightDelim string
}

func parseOptions(opts map[string]any) engineOptions {
	var o engineOptions
	if v, ok := opts["strict"].(bool); ok {
		o.strict = v
	}
	if v, ok := opts["leftDelim"].(string); ok {
		o.leftDelim = v
	}
	if v, ok := opts["rightDelim"].(string); ok {
		o.rightDelim = v
	}
	return o
}

func (o engineOptions) missingKey() string {
	if o.strict {
		return "missingkey=error"
	}
	return "missingkey=default"
}

func (o engineOptions) signature() string {
	var b strings.Builder
	if o.strict {
		b.WriteString("strict")
	}
	b.WriteString("|" + o.leftDelim + "|" + o.rightDelim)
	return b.String()
}
