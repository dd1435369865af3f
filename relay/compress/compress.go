// Package compress shrinks prompts before dispatch. Five stages run in order,
// each independently fail-open: a panicking stage is skipped, never the whole
// pipeline. No stage may rename identifiers, reorder messages, drop the latest
// user message, or drop system instructions.
package compress

import (
	"fmt"
	"strings"

	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/common/tokenizer"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// StageReport records what one stage did to the estimated token count.
type StageReport struct {
	Name         string `json:"name"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
	Skipped      bool   `json:"skipped,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Result is the compressed conversation plus per-stage accounting.
type Result struct {
	Messages     []relaymodel.Message `json:"-"`
	TokensBefore int                  `json:"tokens_before"`
	TokensAfter  int                  `json:"tokens_after"`
	Stages       []StageReport        `json:"stages"`
}

// TokensSaved returns the estimated reduction.
func (r Result) TokensSaved() int {
	if saved := r.TokensBefore - r.TokensAfter; saved > 0 {
		return saved
	}
	return 0
}

type stage struct {
	name string
	fn   func(msgs []relaymodel.Message) ([]relaymodel.Message, string)
}

var stages = []stage{
	{"normalize", normalize},
	{"block_dedup", blockDedup},
	{"symbol_table", symbolTable},
	{"code_compress", codeCompress},
	{"context_trim", contextTrim},
}

// Run compresses the conversation. The input slice is not mutated.
func Run(messages []relaymodel.Message) Result {
	current := cloneMessages(messages)
	out := Result{TokensBefore: estimateMessages(current)}

	tokens := out.TokensBefore
	for _, st := range stages {
		report := StageReport{Name: st.name, TokensBefore: tokens}
		next, note := runStage(st, current)
		after := tokens
		if next != nil {
			after = estimateMessages(next)
		}
		// A stage output is accepted only when it shrank the estimate, so
		// the pipeline as a whole never grows the prompt.
		if next == nil || after >= tokens {
			report.Skipped = true
			report.TokensAfter = tokens
		} else {
			current = next
			tokens = after
			report.TokensAfter = after
			report.Note = note
		}
		out.Stages = append(out.Stages, report)
	}

	out.Messages = current
	out.TokensAfter = tokens
	return out
}

// runStage isolates one stage; a panic skips just that stage.
func runStage(st stage, msgs []relaymodel.Message) (out []relaymodel.Message, note string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Warn("compression stage panicked, skipping",
				zap.String("stage", st.name), zap.Any("panic", r))
			out = nil
		}
	}()
	return st.fn(msgs)
}

func cloneMessages(msgs []relaymodel.Message) []relaymodel.Message {
	out := make([]relaymodel.Message, len(msgs))
	copy(out, msgs)
	return out
}

// lastUserIndex returns the index of the final user message, -1 if none.
// That message is read-only for every stage: stages may count its blocks and
// phrases, but its bytes reach the provider untouched.
func lastUserIndex(msgs []relaymodel.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return i
		}
	}
	return -1
}

// noteIndex picks the message a stage may prepend an explanation to: the
// first text message that is not the final user turn.
func noteIndex(msgs []relaymodel.Message, lastUser int) int {
	for i := range msgs {
		if i == lastUser {
			continue
		}
		if _, ok := textOf(msgs[i]); ok {
			return i
		}
	}
	return -1
}

func estimateMessages(msgs []relaymodel.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokenizer.EstimateTokens(m.StringContent())
	}
	return total
}

// textOf returns the flat text of a message, "" for structured content that
// compression should leave alone.
func textOf(msg relaymodel.Message) (string, bool) {
	if s, ok := msg.Content.(string); ok {
		return s, true
	}
	return "", false
}

// segments splits text into alternating plain/fenced regions so stages can
// treat code differently from prose. Fenced regions include their fences.
type segment struct {
	text   string
	fenced bool
}

func splitFences(text string) []segment {
	var segs []segment
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		tail := rest[open+3:]
		closeIdx := strings.Index(tail, "```")
		if closeIdx < 0 {
			break
		}
		if open > 0 {
			segs = append(segs, segment{text: rest[:open]})
		}
		segs = append(segs, segment{text: rest[open : open+3+closeIdx+3], fenced: true})
		rest = rest[open+3+closeIdx+3:]
	}
	if rest != "" || len(segs) == 0 {
		segs = append(segs, segment{text: rest})
	}
	return segs
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String()
}

// mapText applies fn to every plain-text message, leaving structured content
// untouched.
func mapText(msgs []relaymodel.Message, fn func(i int, text string) string) []relaymodel.Message {
	out := cloneMessages(msgs)
	for i := range out {
		if text, ok := textOf(out[i]); ok {
			out[i].Content = fn(i, text)
		}
	}
	return out
}

var bulletPrefixes = []string{"* ", "+ ", "• "}

// normalize collapses whitespace noise without touching wording or order.
// Fenced code and the final user turn pass through untouched.
func normalize(msgs []relaymodel.Message) ([]relaymodel.Message, string) {
	lastUser := lastUserIndex(msgs)
	out := mapText(msgs, func(i int, text string) string {
		if i == lastUser {
			return text
		}
		segs := splitFences(text)
		for si := range segs {
			if segs[si].fenced {
				continue
			}
			segs[si].text = normalizeProse(segs[si].text)
		}
		return joinSegments(segs)
	})
	return out, ""
}

func normalizeProse(text string) string {
	lines := strings.Split(text, "\n")
	var (
		outLines []string
		blanks   int
	)
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimLeft(line, " \t")
		for _, p := range bulletPrefixes {
			if strings.HasPrefix(trimmed, p) {
				indent := line[:len(line)-len(trimmed)]
				line = indent + "- " + trimmed[len(p):]
				break
			}
		}
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		outLines = append(outLines, line)
	}
	return strings.Join(outLines, "\n")
}

const hashPrefixLen = 8

// blockDedup replaces repeated semantic blocks (fenced code, paired XML-ish
// tags) with reference markers, keeping the first occurrence in place.
func blockDedup(msgs []relaymodel.Message) ([]relaymodel.Message, string) {
	lastUser := lastUserIndex(msgs)
	seen := make(map[string]bool)
	replaced := 0

	out := mapText(msgs, func(i int, text string) string {
		for _, block := range findBlocks(text) {
			key := blockHash(block.kind, block.content)
			if !seen[key] {
				seen[key] = true
				continue
			}
			if i == lastUser {
				continue
			}
			marker := fmt.Sprintf("[ref:block:%s]", key)
			text = strings.Replace(text, block.raw, marker, 1)
			replaced++
		}
		return text
	})

	if replaced == 0 {
		return out, ""
	}
	// Tell the model what the markers mean.
	if ni := noteIndex(out, lastUser); ni >= 0 {
		text, _ := textOf(out[ni])
		out[ni].Content = fmt.Sprintf(
			"[%d duplicate block(s) replaced by [ref:block:...] markers referring to their first occurrence]\n%s",
			replaced, text)
	}
	return out, fmt.Sprintf("%d blocks deduplicated", replaced)
}

// codeCompress tightens fenced code blocks and collapses whole-block
// duplicates into a back-reference.
func codeCompress(msgs []relaymodel.Message) ([]relaymodel.Message, string) {
	type entry struct{ ordinal int }
	lastUser := lastUserIndex(msgs)
	seen := make(map[string]entry)
	ordinal := 0
	collapsed := 0

	out := mapText(msgs, func(i int, text string) string {
		segs := splitFences(text)
		for si := range segs {
			if !segs[si].fenced {
				continue
			}
			tightened := tightenCode(segs[si].text)
			key := blockHash("code", fenceBody(tightened))
			if prev, ok := seen[key]; ok {
				if i == lastUser {
					continue
				}
				segs[si].text = fmt.Sprintf("[identical to code block #%d above]", prev.ordinal)
				collapsed++
				continue
			}
			ordinal++
			seen[key] = entry{ordinal: ordinal}
			if i != lastUser {
				segs[si].text = tightened
			}
		}
		if i == lastUser {
			return text
		}
		return joinSegments(segs)
	})

	if collapsed == 0 {
		return out, ""
	}
	return out, fmt.Sprintf("%d duplicate code blocks collapsed", collapsed)
}

var tripleBlank = strings.Repeat("\n", 4)

func tightenCode(fenced string) string {
	lines := strings.Split(fenced, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, tripleBlank) {
		out = strings.ReplaceAll(out, tripleBlank, "\n\n\n")
	}
	return out
}

// fenceBody strips the fence lines so hashing compares only the code.
func fenceBody(fenced string) string {
	body := strings.TrimPrefix(fenced, "```")
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	}
	return strings.TrimSuffix(body, "```")
}
