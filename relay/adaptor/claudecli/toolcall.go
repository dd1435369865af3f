package claudecli

import (
	"encoding/json"
	"strings"

	"github.com/cheaprelay/cheaprelay/common/helper"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	toolCallOpenTag  = "<tool_call>"
	toolCallCloseTag = "</tool_call>"
)

// toolCallScanner detects <tool_call>{...}</tool_call> literals the CLI
// emits inline in assistant text. It is a two-state machine: scanning-text
// and inside-tool-block. While scanning, a tail of up to len(openTag)-1
// characters is held back so an opening tag split across chunk boundaries is
// never flushed as plain text.
type toolCallScanner struct {
	insideBlock bool
	pending     string // text tail that might start an open tag
	blockBuf    strings.Builder
	calls       []relaymodel.ToolCall
}

// scanResult is what one Feed pass produced: plain text to forward and any
// completed tool calls.
type scanResult struct {
	Text  string
	Calls []relaymodel.ToolCall
}

// Feed consumes the next text fragment and returns the text safe to emit
// plus any tool calls completed inside this fragment.
func (s *toolCallScanner) Feed(fragment string) scanResult {
	var out scanResult
	buf := s.pending + fragment
	s.pending = ""

	for buf != "" {
		if s.insideBlock {
			closeIdx := strings.Index(buf, toolCallCloseTag)
			if closeIdx < 0 {
				// Hold back a tail that could be the start of the close tag
				// arriving in the next fragment.
				hold := partialSuffixOf(buf, toolCallCloseTag)
				s.blockBuf.WriteString(buf[:len(buf)-hold])
				s.pending = buf[len(buf)-hold:]
				return out
			}
			s.blockBuf.WriteString(buf[:closeIdx])
			if call, ok := s.parseBlock(); ok {
				out.Calls = append(out.Calls, call)
			}
			s.blockBuf.Reset()
			s.insideBlock = false
			buf = buf[closeIdx+len(toolCallCloseTag):]
			continue
		}

		openIdx := strings.Index(buf, toolCallOpenTag)
		if openIdx >= 0 {
			out.Text += buf[:openIdx]
			s.insideBlock = true
			buf = buf[openIdx+len(toolCallOpenTag):]
			continue
		}

		// No open tag: emit everything except a tail that could be the
		// start of one arriving in the next fragment.
		hold := partialSuffixOf(buf, toolCallOpenTag)
		out.Text += buf[:len(buf)-hold]
		s.pending = buf[len(buf)-hold:]
		return out
	}
	return out
}

// Flush ends the stream. An unclosed open tag gets a best-effort parse;
// held-back text that never became a tag is returned as plain text.
func (s *toolCallScanner) Flush() scanResult {
	var out scanResult
	if s.insideBlock {
		s.blockBuf.WriteString(s.pending)
		s.pending = ""
		if call, ok := s.parseBlock(); ok {
			out.Calls = append(out.Calls, call)
		}
		s.blockBuf.Reset()
		s.insideBlock = false
	}
	out.Text = s.pending
	s.pending = ""
	return out
}

// Calls returns every tool call completed so far.
func (s *toolCallScanner) Calls() []relaymodel.ToolCall {
	return s.calls
}

func (s *toolCallScanner) parseBlock() (relaymodel.ToolCall, bool) {
	raw := strings.TrimSpace(s.blockBuf.String())
	if raw == "" {
		return relaymodel.ToolCall{}, false
	}
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Name == "" {
		return relaymodel.ToolCall{}, false
	}

	args := string(payload.Arguments)
	if args == "" {
		args = "{}"
	}
	call := relaymodel.ToolCall{
		ID:   helper.GenCallID(),
		Type: "function",
		Function: relaymodel.FunctionCall{
			Name:      payload.Name,
			Arguments: args,
		},
	}
	s.calls = append(s.calls, call)
	return call, true
}

// partialSuffixOf returns the length of the longest suffix of buf that is a
// proper prefix of tag.
func partialSuffixOf(buf, tag string) int {
	max := len(tag) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
