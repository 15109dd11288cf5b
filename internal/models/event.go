package models

import (
	"encoding/json"
	"fmt"
)

// EntryTypeSpans is the entry type holding a transaction's span list.
const EntryTypeSpans = "spans"

// Event is a transaction event detail payload.
type Event struct {
	EventID     string  `json:"eventID"`
	Title       string  `json:"title"`
	ProjectSlug string  `json:"projectSlug,omitempty"`
	Entries     []Entry `json:"entries"`
}

// Entry is one typed section of an event. Data is decoded lazily by type.
type Entry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Spans decodes the spans entry of the event. The boolean is false when the
// event carries no spans entry at all.
func (e *Event) Spans() ([]RawSpan, bool, error) {
	if e == nil {
		return nil, false, nil
	}
	for _, entry := range e.Entries {
		if entry.Type != EntryTypeSpans {
			continue
		}
		if len(entry.Data) == 0 || string(entry.Data) == "null" {
			return nil, true, nil
		}
		var spans []RawSpan
		if err := json.Unmarshal(entry.Data, &spans); err != nil {
			return nil, true, fmt.Errorf("failed to decode spans entry: %w", err)
		}
		return spans, true, nil
	}
	return nil, false, nil
}
