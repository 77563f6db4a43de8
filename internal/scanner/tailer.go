package scanner

import (
	"bufio"
	"os"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

// maxLineBytes bounds a single log line in the scanner-based readers, the
// one-shot and journal drains. The incremental tailer reads whole lines
// regardless of length so offsets never land mid-line.
const maxLineBytes = 1024 * 1024

// Tailer performs incremental passes over the configured log files,
// resuming each file from its saved byte offset and classifying every new
// line. Rotation and truncation reset the offset to zero so the new file
// is read from the start.
type Tailer struct {
	lib     *detector.Library
	offsets *OffsetStore
	log     logger.Logger
}

// PassResult summarizes one incremental pass.
type PassResult struct {
	FilesScanned int
	LinesRead    int
	Events       int
}

func NewTailer(lib *detector.Library, offsets *OffsetStore, log logger.Logger) *Tailer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Tailer{lib: lib, offsets: offsets, log: log}
}

// Pass walks roots, reads the unread tail of every log-like file, and calls
// emit for each classified event. Offsets advance in memory only over
// fully-read lines; the caller decides when to persist them (eager, or
// deferred until a server ack for strict delivery). Gzipped archives are
// skipped in incremental mode; the one-shot reader handles them.
func (t *Tailer) Pass(roots []string, enabled detector.EnabledSet, mode detector.Mode, host string, emit func(*storage.Event)) (PassResult, error) {
	var res PassResult
	for _, path := range CollectFiles(roots) {
		if isGzip(path) {
			continue
		}
		lines, events, err := t.tailFile(path, enabled, mode, host, emit)
		if err != nil {
			t.log.WithField("file", path).Warn("skipping unreadable log file")
			continue
		}
		res.FilesScanned++
		res.LinesRead += lines
		res.Events += events
	}
	return res, nil
}

func (t *Tailer) tailFile(path string, enabled detector.EnabledSet, mode detector.Mode, host string, emit func(*storage.Event)) (lines, events int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}

	off := t.offsets.Get(path)
	if off > info.Size() || off < 0 {
		// Rotated or truncated underneath us.
		off = 0
	}
	if _, err := f.Seek(off, 0); err != nil {
		return 0, 0, err
	}

	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		line, rerr := r.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			lines++
			events += t.classify(line, path, lineNo, enabled, mode, host, emit)
			off += int64(len(line))
		}
		if rerr != nil {
			break
		}
	}
	t.offsets.Set(path, off)
	return lines, events, nil
}

func (t *Tailer) classify(line, source string, lineNo int, enabled detector.EnabledSet, mode detector.Mode, host string, emit func(*storage.Event)) int {
	trimmed := trimNewline(line)
	if trimmed == "" {
		return 0
	}
	n := 0
	for _, typ := range t.lib.Classify(trimmed, enabled, mode) {
		emit(storage.NewEvent(typ, trimmed, source, lineNo, host))
		n++
	}
	return n
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func isGzip(path string) bool {
	return len(path) > 3 && path[len(path)-3:] == ".gz"
}
