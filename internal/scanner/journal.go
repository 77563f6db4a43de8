package scanner

import (
	"bufio"
	"context"
	"os/exec"
	"time"

	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

// journalTimeout bounds one journalctl drain.
const journalTimeout = 30 * time.Second

// JournalSource is the source_file recorded for events found in the
// systemd journal, which has no backing text file.
const JournalSource = "journalctl"

// DrainJournal classifies the systemd journal via journalctl. Hosts
// without journalctl (or without a journal) drain zero events; that is
// not an error. Journal events carry line_number 0 since the journal has
// no stable line positions.
func DrainJournal(ctx context.Context, lib *detector.Library, enabled detector.EnabledSet, mode detector.Mode, host string, log logger.Logger, emit func(*storage.Event)) (int, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if _, err := exec.LookPath("journalctl"); err != nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "journalctl", "-o", "short-iso", "--no-pager")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		log.Warn("journalctl unavailable, skipping journal drain")
		return 0, nil
	}

	events := 0
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		for _, typ := range lib.Classify(line, enabled, mode) {
			emit(storage.NewEvent(typ, line, JournalSource, 0, host))
			events++
		}
	}
	if err := cmd.Wait(); err != nil {
		// Non-zero exit usually means no journal access; the lines already
		// read still count.
		log.Warn("journalctl exited with error")
	}
	return events, sc.Err()
}
