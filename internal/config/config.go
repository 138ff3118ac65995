// Package config holds the flags shared by the leaksniff binaries and wires the
// detection components from them.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/leaksniff/internal/detect"
	"github.com/zombor/leaksniff/internal/fingerprint"
	"github.com/zombor/leaksniff/internal/leak"
	"github.com/zombor/leaksniff/internal/ocr"
	"github.com/zombor/leaksniff/internal/reference"
	"github.com/zombor/leaksniff/internal/textcache"
)

// EnvVarPrefix prefixes environment variables, e.g. LEAKSNIFF_HASH_DIR
const EnvVarPrefix = "LEAKSNIFF"

// Config holds settings common to every binary
type Config struct {
	HashDir       string
	TextDir       string
	TextCache     string
	FingerprintDB string

	Engine      string
	Languages   string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string

	HashThreshold int
	TextThreshold float64
	UICutoff      float64
	OCRTimeout    time.Duration
	HashTimeout   time.Duration

	LogLevel   string
	ConfigFile string
}

// Register adds the shared flags to fs
func Register(fs *ff.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.HashDir, 0, "hash-dir", "match_confidential", "Directory of confidential reference images for hash matching")
	fs.StringVar(&c.TextDir, 0, "text-dir", "downloaded_images", "Directory of reference images for text matching")
	fs.StringVar(&c.TextCache, 0, "text-cache", "", "OCR text cache file (default <text-dir>/ocr_texts.json)")
	fs.StringVar(&c.FingerprintDB, 0, "fingerprint-db", "", "Persist reference fingerprints in this bbolt file (optional)")

	fs.StringVar(&c.Engine, 0, "ocr-engine", "tesseract", "OCR engine: tesseract, gemini, ollama or vision")
	fs.StringVar(&c.Languages, 0, "ocr-languages", "eng", "Comma separated Tesseract languages")
	fs.StringVar(&c.GeminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&c.GeminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&c.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&c.OllamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl, llama3.2-vision)")

	fs.IntVar(&c.HashThreshold, 0, "hash-threshold", fingerprint.DefaultThreshold, "Maximum Hamming distance for a hash match")
	fs.Float64Var(&c.TextThreshold, 0, "text-threshold", detect.DefaultTextThreshold, "Minimum sequence ratio (0-1) for a text match")
	fs.Float64Var(&c.UICutoff, 0, "ui-cutoff", detect.DefaultUICutoff, "Minimum score (0-100) to flag UI text as confidential")
	fs.DurationVar(&c.OCRTimeout, 0, "ocr-timeout", ocr.DefaultTimeout, "Maximum time for OCR of one image")
	fs.DurationVar(&c.HashTimeout, 0, "hash-timeout", fingerprint.DefaultTimeout, "Maximum time to decode and hash one image")

	fs.StringVar(&c.LogLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&c.ConfigFile, 0, "config", "", "Config file with one \"flag value\" per line (optional)")
	return c
}

// Parse parses args, then LEAKSNIFF_* environment variables, then the
// optional --config file. fs must have been passed to Register.
func Parse(fs *ff.FlagSet, args []string) error {
	return ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
}

// TextCachePath returns the configured cache file or the default inside TextDir
func (c *Config) TextCachePath() string {
	if c.TextCache != "" {
		return c.TextCache
	}
	return filepath.Join(c.TextDir, textcache.FileName)
}

// Thresholds returns the detector thresholds
func (c *Config) Thresholds() leak.Thresholds {
	return leak.Thresholds{
		Hash: c.HashThreshold,
		Text: c.TextThreshold,
		UI:   c.UICutoff,
	}
}

// OCROptions returns the engine selection
func (c *Config) OCROptions() ocr.Options {
	var languages []string
	for _, lang := range strings.Split(c.Languages, ",") {
		if lang = strings.TrimSpace(lang); lang != "" {
			languages = append(languages, lang)
		}
	}
	return ocr.Options{
		Engine:      c.Engine,
		Languages:   languages,
		GeminiKey:   c.GeminiKey,
		GeminiModel: c.GeminiModel,
		OllamaURL:   c.OllamaURL,
		OllamaModel: c.OllamaModel,
	}
}

// SetupLogging installs a text slog handler on stderr at the configured level
func (c *Config) SetupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// App is the wired set of detection components
type App struct {
	Service     *leak.Service
	Extractor   *ocr.Extractor
	TextLibrary reference.Library
	TextCache   *textcache.Cache

	closers []func() error
}

// Open builds every component from c. Callers must Close the App.
func Open(ctx context.Context, c *Config) (*App, error) {
	app := &App{}

	hashLib, err := reference.NewLocalLibrary(c.HashDir)
	if err != nil {
		return nil, fmt.Errorf("opening hash directory: %w", err)
	}
	textLib, err := reference.NewLocalLibrary(c.TextDir)
	if err != nil {
		return nil, fmt.Errorf("opening text directory: %w", err)
	}
	app.TextLibrary = textLib

	var cache fingerprint.Cache = fingerprint.NewMemoryCache()
	if c.FingerprintDB != "" {
		slog.Info("Opening fingerprint database", "path", c.FingerprintDB)
		boltCache, err := fingerprint.NewBoltCache(c.FingerprintDB)
		if err != nil {
			return nil, fmt.Errorf("opening fingerprint database: %w", err)
		}
		app.closers = append(app.closers, boltCache.Close)
		cache = boltCache
	}
	store := fingerprint.NewStore(hashLib, cache, fingerprint.WithTimeout(c.HashTimeout))

	slog.Info("Initializing OCR engine", "engine", c.Engine)
	engine, err := ocr.NewEngine(ctx, c.OCROptions())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("initializing OCR engine: %w", err)
	}
	app.closers = append(app.closers, engine.Close)
	app.Extractor = ocr.NewExtractor(engine, c.OCRTimeout)

	app.TextCache, err = textcache.Open(c.TextCachePath())
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Service = leak.NewServiceWithDeps(store, app.Extractor, app.TextCache, textLib, detect.NewKeywordDetector(nil), c.Thresholds())
	return app, nil
}

// Close releases the engine and the fingerprint database
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
