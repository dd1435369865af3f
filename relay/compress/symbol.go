package compress

import (
	"fmt"
	"sort"
	"strings"

	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

const (
	symbolMinLen    = 20
	symbolMinCount  = 3
	symbolMaxCount  = 10
	windowMinWords  = 5
	windowMaxWords  = 15
	symbolScanLimit = 200_000 // chars of prose considered, keeps scans bounded
)

// symbolTable finds phrases repeated across the conversation, replaces all but
// the first occurrence with §N symbols, and prepends the definitions. Code
// fences and the final user turn are never touched.
func symbolTable(msgs []relaymodel.Message) ([]relaymodel.Message, string) {
	corpus := proseCorpus(msgs)
	if len(corpus) > symbolScanLimit {
		corpus = corpus[:symbolScanLimit]
	}

	phrases := repeatedPhrases(corpus)
	if len(phrases) == 0 {
		return msgs, ""
	}

	lastUser := lastUserIndex(msgs)
	out := cloneMessages(msgs)
	replaced := 0
	for n, phrase := range phrases {
		symbol := fmt.Sprintf("§%d", n+1)
		replaced += substituteAfterFirst(out, phrase, symbol, lastUser)
	}
	ni := noteIndex(out, lastUser)
	if replaced == 0 || ni < 0 {
		return msgs, ""
	}

	var defs strings.Builder
	defs.WriteString("[symbol definitions:")
	for n, phrase := range phrases {
		fmt.Fprintf(&defs, " §%d=%q", n+1, phrase)
	}
	defs.WriteString("]\n")
	text, _ := textOf(out[ni])
	out[ni].Content = defs.String() + text

	return out, fmt.Sprintf("%d symbols defined", len(phrases))
}

func proseCorpus(msgs []relaymodel.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		text, ok := textOf(m)
		if !ok {
			continue
		}
		for _, seg := range splitFences(text) {
			if !seg.fenced {
				b.WriteString(seg.text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// repeatedPhrases collects phrases worth a symbol: at least symbolMinLen
// chars, occurring at least symbolMinCount times, longest savings first, no
// phrase a substring of an already-chosen one.
func repeatedPhrases(corpus string) []string {
	counts := make(map[string]int)

	for _, cand := range sentenceSegments(corpus) {
		if _, seen := counts[cand]; seen {
			continue
		}
		if c := strings.Count(corpus, cand); c >= symbolMinCount {
			counts[cand] = c
		}
	}
	for _, cand := range wordWindows(corpus) {
		if _, seen := counts[cand]; seen {
			continue
		}
		if c := strings.Count(corpus, cand); c >= symbolMinCount {
			counts[cand] = c
		}
	}

	type scored struct {
		phrase  string
		savings int
	}
	ranked := make([]scored, 0, len(counts))
	for phrase, count := range counts {
		ranked = append(ranked, scored{phrase, (len(phrase) - 2) * (count - 1)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].savings != ranked[j].savings {
			return ranked[i].savings > ranked[j].savings
		}
		return ranked[i].phrase < ranked[j].phrase
	})

	var out []string
	for _, s := range ranked {
		if len(out) == symbolMaxCount {
			break
		}
		overlap := false
		for _, chosen := range out {
			if strings.Contains(chosen, s.phrase) || strings.Contains(s.phrase, chosen) {
				overlap = true
				break
			}
		}
		if !overlap {
			out = append(out, s.phrase)
		}
	}
	return out
}

func sentenceSegments(corpus string) []string {
	var out []string
	start := 0
	for i := 0; i < len(corpus); i++ {
		switch corpus[i] {
		case '.', '!', '?', '\n':
			seg := strings.TrimSpace(corpus[start:i])
			if len(seg) >= symbolMinLen {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	if seg := strings.TrimSpace(corpus[start:]); len(seg) >= symbolMinLen {
		out = append(out, seg)
	}
	return out
}

// wordWindows emits sliding windows of windowMinWords..windowMaxWords words.
// Longer windows are tried first so bigger phrases win the count map.
func wordWindows(corpus string) []string {
	words := strings.Fields(corpus)
	var out []string
	for size := windowMaxWords; size >= windowMinWords; size-- {
		for i := 0; i+size <= len(words); i++ {
			phrase := strings.Join(words[i:i+size], " ")
			if len(phrase) >= symbolMinLen {
				out = append(out, phrase)
			}
		}
	}
	return out
}

// substituteAfterFirst replaces every occurrence of phrase after the first
// with symbol, scanning messages in order and skipping code fences. The
// message at index skip is read-only: an occurrence there can claim the
// first-occurrence slot but is never rewritten. Returns how many occurrences
// were substituted.
func substituteAfterFirst(msgs []relaymodel.Message, phrase, symbol string, skip int) int {
	seenFirst := false
	replaced := 0
	for i := range msgs {
		text, ok := textOf(msgs[i])
		if !ok || !strings.Contains(text, phrase) {
			continue
		}
		segs := splitFences(text)
		if i == skip {
			for _, seg := range segs {
				if !seg.fenced && strings.Contains(seg.text, phrase) {
					seenFirst = true
					break
				}
			}
			continue
		}
		for si := range segs {
			if segs[si].fenced {
				continue
			}
			if !seenFirst {
				idx := strings.Index(segs[si].text, phrase)
				if idx < 0 {
					continue
				}
				seenFirst = true
				head := segs[si].text[:idx+len(phrase)]
				rest := segs[si].text[idx+len(phrase):]
				replaced += strings.Count(rest, phrase)
				segs[si].text = head + strings.ReplaceAll(rest, phrase, symbol)
				continue
			}
			replaced += strings.Count(segs[si].text, phrase)
			segs[si].text = strings.ReplaceAll(segs[si].text, phrase, symbol)
		}
		msgs[i].Content = joinSegments(segs)
	}
	return replaced
}
