package adaptor

import (
	"bufio"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/cheaprelay/cheaprelay/common/helper"
)

// ScanSSE reads an SSE body line by line and invokes fn with each data
// payload. fn returning false stops the scan (terminal sentinel seen).
// Partial lines are buffered by the scanner, so events split across chunk
// boundaries arrive whole.
func ScanSSE(body io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			// event:, id:, comments, and blank separators carry no payload.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if !fn(data) {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "scan sse stream")
}

// ScanNDJSON reads newline-delimited JSON and invokes fn with each non-empty
// line. fn returning false stops the scan.
func ScanNDJSON(body io.Reader, fn func(line string) bool) error {
	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "scan ndjson stream")
}
