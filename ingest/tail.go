// Package ingest reads sensor alert blocks from an append-only log and
// parses them into structured alerts.
package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"argus/metrics"

	"go.uber.org/zap"
)

// TailReader incrementally reads appended content from a monitored log
// file. It keeps a byte offset cursor and splits new content into
// blank-line-delimited alert blocks.
//
// Truncation handling is an explicit at-least-once choice: when the file
// shrinks below the cursor the cursor resets to zero and the full current
// content is treated as new, so content written shortly before a rotation
// was detected may be re-read. Downstream upsert-by-id absorbs the
// duplicates.
type TailReader struct {
	path   string
	offset int64
	logger *zap.SugaredLogger

	warnedMissing bool
}

// NewTailReader creates a tail reader starting at offset zero so alerts
// already present in the file are processed on the first poll.
func NewTailReader(path string, logger *zap.SugaredLogger) *TailReader {
	return &TailReader{
		path:   path,
		logger: logger,
	}
}

// Offset returns the current byte cursor. Exposed for tests and status
// reporting.
func (t *TailReader) Offset() int64 {
	return t.offset
}

// Poll reads any bytes appended since the last poll and returns them as
// raw alert blocks in file order. A missing file is not an error; the
// reader waits for it to appear.
func (t *TailReader) Poll() ([]string, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !t.warnedMissing {
				t.logger.Warnf("Log file %s not found, waiting for it to appear", t.path)
				t.warnedMissing = true
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	t.warnedMissing = false

	size := info.Size()

	// File shrank: truncation or rotation. Reset and re-read from the start.
	if size < t.offset {
		t.logger.Infof("Log file %s truncated (size %d < offset %d), resetting cursor", t.path, size, t.offset)
		metrics.TruncationsDetected.Inc()
		t.offset = 0
	}

	if size == t.offset {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", t.offset, err)
	}

	buf := make([]byte, size-t.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	t.offset += int64(n)

	blocks := splitBlocks(string(buf[:n]))
	for range blocks {
		metrics.BlocksRead.Inc()
	}
	return blocks, nil
}

// splitBlocks splits raw log content on blank-line boundaries, discarding
// empty fragments.
func splitBlocks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	parts := strings.Split(content, "\n\n")
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		blocks = append(blocks, p)
	}
	return blocks
}
