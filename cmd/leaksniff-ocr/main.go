package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/leaksniff/internal/config"
	"github.com/zombor/leaksniff/internal/ocr"
	"github.com/zombor/leaksniff/internal/reference"
	"github.com/zombor/leaksniff/internal/textcache"
)

// leaksniff-ocr re-extracts text from every image in a directory and
// overwrites the text cache with the result.
func main() {
	fs := ff.NewFlagSet("leaksniff-ocr")
	cfg := config.Register(fs)
	var (
		dir = fs.StringLong("dir", "", "Directory of images to OCR (default --text-dir)")
		out = fs.StringLong("out", "", "Cache file to write (default <dir>/ocr_texts.json)")
	)

	if err := config.Parse(fs, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.SetupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *dir == "" {
		*dir = cfg.TextDir
	}
	if *out == "" {
		*out = filepath.Join(*dir, textcache.FileName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dir, *out); err != nil {
		slog.Error("OCR rebuild failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, dir, out string) error {
	lib, err := reference.NewLocalLibrary(dir)
	if err != nil {
		return err
	}

	engine, err := ocr.NewEngine(ctx, cfg.OCROptions())
	if err != nil {
		return fmt.Errorf("initializing OCR engine: %w", err)
	}
	defer engine.Close()

	// Existing contents are discarded, so the old file is never read
	cache := textcache.New(out)

	slog.Info("Rebuilding text cache", "dir", dir, "out", out, "engine", engine.Name())
	count, err := cache.Rebuild(ctx, lib, ocr.NewExtractor(engine, cfg.OCRTimeout))
	if err != nil {
		return err
	}

	slog.Info("Saved OCR results", "path", out, "images", count)
	return nil
}
