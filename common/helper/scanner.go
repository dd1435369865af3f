package helper

import "bufio"

// DefaultScannerInitialBufferSize is the initial buffer capacity for upstream
// stream scanners.
const DefaultScannerInitialBufferSize = 64 * 1024

// DefaultScannerMaxTokenSize caps a single SSE or NDJSON line. Provider
// payloads with large embedded content must fit in one token.
const DefaultScannerMaxTokenSize = 32 * 1024 * 1024

// ConfigureScannerBuffer sizes a scanner for provider stream parsing. Safe to
// call multiple times for the same scanner.
func ConfigureScannerBuffer(scanner *bufio.Scanner) {
	if scanner == nil {
		return
	}
	buffer := make([]byte, DefaultScannerInitialBufferSize)
	scanner.Buffer(buffer, DefaultScannerMaxTokenSize)
}
