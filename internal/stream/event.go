package stream

import (
	"encoding/json"
	"strings"

	"codechat/internal/directive"
)

// wireEvent is one decoded data: <json> line from the chat stream. Any subset
// of the fields may be present on a given line.
type wireEvent struct {
	Content     string                     `json:"content,omitempty"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
	CodeChanges []directive.FileEdit       `json:"codeChanges,omitempty"`
	Done        bool                       `json:"done,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

// decodeEventLine extracts the wire event from one SSE line. Lines without the
// data: prefix (comments, blank keep-alives) return ok=false with no error;
// a data: line that fails to parse returns ok=false with the parse error so
// the caller can log and skip it.
func decodeEventLine(line string) (wireEvent, bool, error) {
	if !strings.HasPrefix(line, "data:") {
		return wireEvent{}, false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return wireEvent{}, false, nil
	}

	var evt wireEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return wireEvent{}, false, err
	}
	return evt, true, nil
}

// overlayMetadata shallow-merges server-sent metadata patch keys over the
// locally parsed directive set. Patch keys win; keys the server never sent
// keep their parsed values. A patch that fails to apply leaves the parsed
// set untouched.
func overlayMetadata(parsed directive.ParsedDirectives, patch map[string]json.RawMessage) directive.ParsedDirectives {
	if len(patch) == 0 {
		return parsed
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return parsed
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return parsed
	}
	for key, value := range patch {
		merged[key] = value
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return parsed
	}
	var result directive.ParsedDirectives
	if err := json.Unmarshal(out, &result); err != nil {
		return parsed
	}
	return result
}
