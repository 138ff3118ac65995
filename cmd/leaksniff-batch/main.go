package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/leaksniff/internal/config"
	"github.com/zombor/leaksniff/internal/leak"
)

var (
	leakColor  = color.New(color.FgRed, color.Bold)
	cleanColor = color.New(color.FgGreen)
	failColor  = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
)

func main() {
	fs := ff.NewFlagSet("leaksniff-batch")
	cfg := config.Register(fs)
	var (
		dir      = fs.StringLong("dir", "", "Directory of candidate images to scan (required)")
		hashOnly = fs.BoolLong("hash-only", "Run only the perceptual hash detector")
		noColor  = fs.BoolLong("no-color", "Disable colored output")
	)

	if err := config.Parse(fs, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: --dir is required\n")
		os.Exit(1)
	}
	if err := cfg.SetupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := config.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize detectors", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var summary batchSummary
	_, err = app.Service.ScanDirectory(ctx, *dir, leak.BatchOptions{HashOnly: *hashOnly}, func(v *leak.Verdict) error {
		summary.add(v)
		return printVerdict(color.Output, v, *hashOnly)
	})
	summary.print(color.Output)
	if err != nil {
		slog.Error("Batch scan failed", "dir", *dir, "error", err)
		app.Close()
		os.Exit(1)
	}
	if summary.leaks > 0 {
		app.Close()
		os.Exit(2)
	}
}

type batchSummary struct {
	scanned int
	leaks   int
	failed  int
}

func (s *batchSummary) add(v *leak.Verdict) {
	s.scanned++
	if v.LeakDetected {
		s.leaks++
	}
	if v.Failed() {
		s.failed++
	}
}

func (s *batchSummary) print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scanned %d images: ", s.scanned)
	if s.leaks > 0 {
		leakColor.Fprintf(w, "%d leaks", s.leaks)
	} else {
		cleanColor.Fprint(w, "no leaks")
	}
	if s.failed > 0 {
		failColor.Fprintf(w, ", %d with detector failures", s.failed)
	}
	fmt.Fprintln(w)
}

func printVerdict(w io.Writer, v *leak.Verdict, hashOnly bool) error {
	var err error
	if v.LeakDetected {
		_, err = leakColor.Fprintf(w, "LEAK  %s", v.Filename)
	} else {
		_, err = cleanColor.Fprintf(w, "OK    %s", v.Filename)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w)

	status, detail := hashDetail(v.Hash)
	printLine(w, "hash", status, detail)
	if hashOnly {
		return nil
	}

	text := strings.Join(strings.Fields(v.OCR.Text), " ")
	if runes := []rune(text); len(runes) > 80 {
		text = string(runes[:77]) + "..."
	}
	dimColor.Fprintf(w, "      ocr: %s %q\n", v.OCR.State, text)
	status, detail = keywordDetail(v.Keyword)
	printLine(w, "keyword", status, detail)
	status, detail = similarityDetail(v.Similarity)
	printLine(w, "similarity", status, detail)
	return nil
}

func printLine(w io.Writer, name string, status leak.Status, detail string) {
	c := dimColor
	switch status {
	case leak.StatusMatched:
		c = leakColor
	case leak.StatusFailed:
		c = failColor
	}
	c.Fprintf(w, "      %s: %s", name, detail)
	fmt.Fprintln(w)
}

func hashDetail(o leak.HashOutcome) (leak.Status, string) {
	switch o.Status {
	case leak.StatusMatched:
		return o.Status, fmt.Sprintf("matches %s (difference %d)", o.Reference, o.Distance)
	case leak.StatusFailed:
		return o.Status, "failed: " + o.Error
	}
	return o.Status, "no match"
}

func keywordDetail(o leak.KeywordOutcome) (leak.Status, string) {
	switch o.Status {
	case leak.StatusMatched:
		return o.Status, fmt.Sprintf("found %q", o.Keyword)
	case leak.StatusFailed:
		return o.Status, "failed: " + o.Error
	}
	return o.Status, "none"
}

func similarityDetail(o leak.SimilarityOutcome) (leak.Status, string) {
	switch o.Status {
	case leak.StatusMatched:
		return o.Status, fmt.Sprintf("matches %s (ratio %.2f)", o.Reference, o.Ratio)
	case leak.StatusFailed:
		return o.Status, "failed: " + o.Error
	}
	return o.Status, "no match"
}
