// Package transport implements the client-facing newline-delimited JSON
// transport on stdin/stdout.
package transport

import (
	"bufio"
	"io"
	"strings"

	"go.uber.org/zap"
)

// maxLineSize bounds one inbound frame (10MB).
const maxLineSize = 10 * 1024 * 1024

// ReadLines reads newline-delimited messages from r into out, trimming
// whitespace and skipping empty lines. Closes out on EOF or read error.
func ReadLines(r io.Reader, out chan<- string, logger *zap.Logger) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out <- line
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdin read error", zap.Error(err))
	}
}

// WriteLines writes each message from in as one line to w, flushing after
// every message so the client receives it immediately. Returns when in is
// closed or on write error.
func WriteLines(w io.Writer, in <-chan string, logger *zap.Logger) {
	bw := bufio.NewWriter(w)
	for msg := range in {
		if _, err := bw.WriteString(msg); err != nil {
			logger.Error("stdout write error", zap.Error(err))
			return
		}
		if err := bw.WriteByte('\n'); err != nil {
			logger.Error("stdout write error", zap.Error(err))
			return
		}
		if err := bw.Flush(); err != nil {
			logger.Error("stdout flush error", zap.Error(err))
			return
		}
	}
}
