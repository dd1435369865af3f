package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// block is one semantic unit found in message text.
type block struct {
	kind    string // "code" or the tag name
	raw     string // the exact substring, marker replacement target
	content string // inner content, hash input
}

func blockHash(kind, content string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

var openTagRe = regexp.MustCompile(`<([a-zA-Z_][\w-]{0,63})>`)

// findBlocks locates fenced code blocks and paired XML-ish tag blocks.
// Tag pairs are matched non-nested: the first close tag after an open wins.
func findBlocks(text string) []block {
	var blocks []block

	for _, seg := range splitFences(text) {
		if seg.fenced {
			blocks = append(blocks, block{
				kind:    "code",
				raw:     seg.text,
				content: fenceBody(seg.text),
			})
			continue
		}
		blocks = append(blocks, findTagBlocks(seg.text)...)
	}
	return blocks
}

func findTagBlocks(text string) []block {
	var blocks []block
	offset := 0
	for {
		loc := openTagRe.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			break
		}
		tag := text[offset+loc[2] : offset+loc[3]]
		openEnd := offset + loc[1]

		closeTag := "</" + tag + ">"
		closeIdx := strings.Index(text[openEnd:], closeTag)
		if closeIdx < 0 {
			offset += loc[1]
			continue
		}

		rawStart := offset + loc[0]
		rawEnd := openEnd + closeIdx + len(closeTag)
		inner := text[openEnd : openEnd+closeIdx]

		// Tiny blocks are not worth a marker.
		if len(inner) >= 40 {
			blocks = append(blocks, block{kind: tag, raw: text[rawStart:rawEnd], content: inner})
		}
		offset = rawEnd
	}
	return blocks
}
