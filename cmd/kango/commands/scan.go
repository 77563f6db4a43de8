package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/detector"
	"github.com/AlcorQi/kango/internal/report"
	"github.com/AlcorQi/kango/internal/scanner"
	"github.com/AlcorQi/kango/internal/storage"
)

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "One-shot scan of local logs",
		Long: `Scan the given log files or directories (default: the configured
log_paths) in full, including rotated and gzipped archives, and print the
findings. Offsets are not touched; this never interferes with a running
agent or server.`,
		RunE: runScan,
	}

	cmd.Flags().Bool("journal", false, "also drain the systemd journal")
	cmd.Flags().String("report", "", "write a plain-text report to this file")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.NewStore(domainConfigPath()).Read()

	roots := args
	if len(roots) == 0 {
		roots = cfg.Detection.LogPaths
	}
	enabled := detector.NewEnabledSet(cfg.Detection.EnabledDetectors)
	mode := detector.ParseMode(cfg.Detection.SearchMode)
	host := storage.Hostname()

	lib, err := detector.LoadLibraryFile(patternPath(), log)
	if err != nil {
		return err
	}

	rep := &report.ScanReport{Host: host}
	emit := func(ev *storage.Event) { rep.Add(ev) }

	res, err := scanner.NewOneShot(lib, log).Scan(roots, enabled, mode, host, emit)
	if err != nil {
		return err
	}
	rep.FilesScanned = res.FilesScanned
	rep.LinesRead = res.LinesRead

	if withJournal, _ := cmd.Flags().GetBool("journal"); withJournal {
		if _, err := scanner.DrainJournal(context.Background(), lib, enabled, mode, host, log, emit); err != nil {
			log.Error("journal drain failed", err)
		}
	}

	printScanResult(rep)

	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := rep.WriteFile(path); err != nil {
			return err
		}
		fmt.Printf("\nReport written to %s\n", path)
	}
	return nil
}

func printScanResult(rep *report.ScanReport) {
	bold := color.New(color.Bold)
	bold.Printf("Scanned %d files, %d lines\n", rep.FilesScanned, rep.LinesRead)

	if len(rep.Events) == 0 {
		color.Green("No anomalies found.")
		return
	}

	color.Red("Found %d anomalies:", len(rep.Events))
	counts := rep.CountsByType()
	for _, t := range detector.AllTypes() {
		if n := counts[t]; n > 0 {
			fmt.Printf("  %-18s %d\n", string(t), n)
		}
	}
	fmt.Println()
	for _, ev := range rep.Events {
		sev := color.YellowString
		switch ev.Severity {
		case detector.SeverityCritical:
			sev = color.RedString
		case detector.SeverityMinor:
			sev = color.CyanString
		}
		fmt.Printf("%s %s %s:%d\n  %s\n",
			sev("[%s]", ev.Severity), ev.Type, ev.SourceFile, ev.LineNumber, ev.Message)
	}
}
