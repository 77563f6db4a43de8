package scanner

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

// OneShot reads the configured log files in full, including gzipped
// archives, and classifies every line. It never touches the offset store;
// the scan command uses it for ad-hoc whole-history passes.
type OneShot struct {
	lib *detector.Library
	log logger.Logger
}

func NewOneShot(lib *detector.Library, log logger.Logger) *OneShot {
	if log == nil {
		log = logger.NewNop()
	}
	return &OneShot{lib: lib, log: log}
}

// Scan walks roots, classifies every line of every log-like file, and
// calls emit per event. Unreadable files are skipped with a warning.
func (o *OneShot) Scan(roots []string, enabled detector.EnabledSet, mode detector.Mode, host string, emit func(*storage.Event)) (PassResult, error) {
	var res PassResult
	for _, path := range CollectFiles(roots) {
		lines, events, err := o.scanFile(path, enabled, mode, host, emit)
		if err != nil {
			o.log.WithField("file", path).Warn("skipping unreadable log file")
			continue
		}
		res.FilesScanned++
		res.LinesRead += lines
		res.Events += events
	}
	return res, nil
}

func (o *OneShot) scanFile(path string, enabled detector.EnabledSet, mode detector.Mode, host string, emit func(*storage.Event)) (lines, events int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if isGzip(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, 0, err
		}
		defer gz.Close()
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		lines++
		line := sc.Text()
		if line == "" {
			continue
		}
		for _, typ := range o.lib.Classify(line, enabled, mode) {
			emit(storage.NewEvent(typ, line, path, lineNo, host))
			events++
		}
	}
	return lines, events, sc.Err()
}
