package adaptor

import relaymodel "github.com/cheaprelay/cheaprelay/relay/model"

// ToolCallAccumulator merges streamed tool-call deltas into complete calls so
// the metadata future can report structured tool calls after the stream ends.
type ToolCallAccumulator struct {
	calls   []relaymodel.ToolCall
	byIndex map[int]int
}

// Add folds one chunk's tool-call deltas into the accumulator. Deltas without
// an index start a new call.
func (a *ToolCallAccumulator) Add(deltas []relaymodel.ToolCall) {
	if a.byIndex == nil {
		a.byIndex = make(map[int]int)
	}
	for _, delta := range deltas {
		idx := len(a.calls)
		if delta.Index != nil {
			if pos, ok := a.byIndex[*delta.Index]; ok {
				idx = pos
			} else {
				a.byIndex[*delta.Index] = idx
			}
		}
		if idx == len(a.calls) {
			a.calls = append(a.calls, relaymodel.ToolCall{Type: "function"})
		}

		call := &a.calls[idx]
		if delta.ID != "" {
			call.ID = delta.ID
		}
		if delta.Type != "" {
			call.Type = delta.Type
		}
		if delta.Function.Name != "" {
			call.Function.Name = delta.Function.Name
		}
		call.Function.Arguments += delta.Function.Arguments
	}
}

// Calls returns the merged tool calls, nil when none were seen.
func (a *ToolCallAccumulator) Calls() []relaymodel.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	return a.calls
}
