// Package agent implements the built-in chat participant: a bounded
// tool-use loop over a streaming model completion. It is also the
// reference pattern for participant handlers contributed by
// extensions.
package agent

// AccumulatedCall is one tool call assembled from partial deltas.
type AccumulatedCall struct {
	ID            string
	FunctionName  string
	ArgumentsText string
}

// Empty reports whether nothing has accumulated at this position.
func (c AccumulatedCall) Empty() bool {
	return c.ID == "" && c.FunctionName == "" && c.ArgumentsText == ""
}

// ToolCallAccumulator assembles tool calls from delta fragments,
// indexed by each delta's declared position so out-of-order or
// repeated deltas merge correctly. ArgumentsText concatenates;
// ID and FunctionName take the last non-empty value.
type ToolCallAccumulator struct {
	calls []AccumulatedCall
}

// Merge folds one delta into the call at index. The first occurrence of
// an index initializes an empty record.
func (a *ToolCallAccumulator) Merge(index int, id, functionName, argumentsDelta string) {
	if index < 0 {
		return
	}
	for len(a.calls) <= index {
		a.calls = append(a.calls, AccumulatedCall{})
	}
	call := &a.calls[index]
	if id != "" {
		call.ID = id
	}
	if functionName != "" {
		call.FunctionName = functionName
	}
	call.ArgumentsText += argumentsDelta
}

// Calls returns the non-empty accumulated calls in index order.
func (a *ToolCallAccumulator) Calls() []AccumulatedCall {
	out := make([]AccumulatedCall, 0, len(a.calls))
	for _, call := range a.calls {
		if !call.Empty() {
			out = append(out, call)
		}
	}
	return out
}

// Reset clears the accumulator for the next model turn.
func (a *ToolCallAccumulator) Reset() {
	a.calls = a.calls[:0]
}
