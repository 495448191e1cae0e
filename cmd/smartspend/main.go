package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/smartspend/smartspend/internal/extract"
	"github.com/smartspend/smartspend/internal/receipt"
	"github.com/smartspend/smartspend/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	logLevel        *string
	logFormat       *string
	currencySymbols *string
}

// run builds the command tree, parses args and runs the selected command
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("smartspend")
	root := rootConfig{
		logLevel:        rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:       rootFlags.StringLong("log-format", "text", "Log format: text or json"),
		currencySymbols: rootFlags.StringLong("currency-symbols", "$,€", "Comma separated currency markers stripped from item descriptions"),
	}
	_ = rootFlags.StringLong("config", "", "Config file in plain 'key value' format (optional)")
	_ = rootFlags.BoolLong("version", "Show version information")

	rootCmd := &ff.Command{
		Name:      "smartspend",
		Usage:     "smartspend [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract line items from receipt images",
		Flags:     rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			return fmt.Errorf("a subcommand is required (serve or extract)")
		},
	}
	rootCmd.Subcommands = []*ff.Command{
		newServeCommand(rootFlags, root),
		newExtractCommand(rootFlags, root, stdin, stdout),
	}

	err := rootCmd.Parse(args,
		ff.WithEnvVarPrefix("SMARTSPEND"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
		ff.WithConfigIgnoreUndefinedFlags(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		return err
	}

	if err := configureLogging(stderr, *root.logLevel, *root.logFormat); err != nil {
		return err
	}

	return rootCmd.Run(ctx)
}

// configureLogging installs the default slog handler
func configureLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q: valid formats are text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// splitSymbols parses the currency-symbols flag
func splitSymbols(value string) []string {
	var symbols []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

// serveConfig holds the serve subcommand's flags
type serveConfig struct {
	port           *int
	dbPath         *string
	storagePath    *string
	scannerType    *string
	geminiKey      *string
	geminiModel    *string
	ollamaURL      *string
	ollamaModel    *string
	tesseractBin   *string
	tesseractLang  *string
	tesseractPSM   *int
	ocrConcurrency *int
	ocrTimeout     *time.Duration
	maxUploadMB    *int
	authUser       *string
	authPass       *string
}

func newServeCommand(parent *ff.FlagSet, root rootConfig) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	cfg := serveConfig{
		port:           fs.IntLong("port", 8080, "HTTP server port"),
		dbPath:         fs.StringLong("db", "smartspend.db", "Database file path"),
		storagePath:    fs.StringLong("storage", "./receipts", "Storage directory path"),
		scannerType:    fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'tesseract'"),
		geminiKey:      fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:    fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name"),
		ollamaURL:      fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:    fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)"),
		tesseractBin:   fs.StringLong("tesseract-bin", "tesseract", "Tesseract binary name or path"),
		tesseractLang:  fs.StringLong("tesseract-lang", "eng", "Tesseract language"),
		tesseractPSM:   fs.IntLong("tesseract-psm", 6, "Tesseract page segmentation mode"),
		ocrConcurrency: fs.IntLong("ocr-concurrency", 3, "Maximum number of receipts scanned at once"),
		ocrTimeout:     fs.DurationLong("ocr-timeout", 2*time.Minute, "Maximum time for a single scan"),
		maxUploadMB:    fs.IntLong("max-upload-mb", 5, "Maximum upload size in megabytes"),
		authUser:       fs.StringLong("auth-user", "", "Basic auth username (optional)"),
		authPass:       fs.StringLong("auth-pass", "", "Basic auth password (optional)"),
	}

	return &ff.Command{
		Name:      "serve",
		Usage:     "smartspend serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, cfg, splitSymbols(*root.currencySymbols))
		},
	}
}

// newScanner builds the configured OCR engine
func newScanner(cfg serveConfig) (scanning.Scanner, error) {
	switch *cfg.scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *cfg.geminiModel)
		return scanning.NewGemini(apiKey, *cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		return scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
	case "tesseract":
		slog.Info("Initializing Tesseract scanner...", "binary", *cfg.tesseractBin, "language", *cfg.tesseractLang)
		return scanning.NewTesseract(scanning.TesseractOptions{
			Binary:      *cfg.tesseractBin,
			Language:    *cfg.tesseractLang,
			PageSegMode: *cfg.tesseractPSM,
		})
	default:
		return nil, fmt.Errorf("invalid scanner type %q: valid types are gemini, ollama or tesseract", *cfg.scannerType)
	}
}

func runServe(ctx context.Context, cfg serveConfig, symbols []string) error {
	// Initialize database
	slog.Info("Initializing database...", "path", *cfg.dbPath)
	db, err := receipt.NewBoltDB(*cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := newScanner(cfg)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *cfg.storagePath)
	store, err := receipt.NewLocalStorage(*cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	receiptService := receipt.NewService(db, scanner, store, receipt.Config{
		OCRConcurrency:  int64(*cfg.ocrConcurrency),
		OCRTimeout:      *cfg.ocrTimeout,
		CurrencySymbols: symbols,
		Metrics:         receipt.NewMetrics(reg),
	})

	server := receipt.NewServer(receiptService, receipt.ServerOptions{
		BasicAuth: receipt.BasicAuth{
			Username: *cfg.authUser,
			Password: *cfg.authPass,
		},
		MaxUploadBytes: int64(*cfg.maxUploadMB) << 20,
		Gatherer:       reg,
	})

	addr := fmt.Sprintf(":%d", *cfg.port)
	if *cfg.authUser != "" || *cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", *cfg.authUser)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx, addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down...")
		return nil
	})
	return g.Wait()
}

func newExtractCommand(parent *ff.FlagSet, root rootConfig, stdin io.Reader, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	format := fs.StringLong("format", "json", "Output format: json or text")

	return &ff.Command{
		Name:      "extract",
		Usage:     "smartspend extract [FLAGS] [FILE ...]",
		ShortHelp: "extract line items from OCR text files (or stdin)",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return runExtract(args, stdin, stdout, *format, splitSymbols(*root.currencySymbols))
		},
	}
}

// runExtract reads each named file, or stdin when none is given, and prints its line items
func runExtract(files []string, stdin io.Reader, stdout io.Writer, format string, symbols []string) error {
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format %q: valid formats are json or text", format)
	}

	var opts []extract.Option
	if len(symbols) > 0 {
		opts = append(opts, extract.WithCurrencySymbols(symbols...))
	}
	extractor := extract.New(opts...)

	var text strings.Builder
	if len(files) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text.Write(data)
	}
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		text.Write(data)
		text.WriteString("\n")
	}

	result := extractor.Extract(text.String())

	if format == "text" {
		for _, item := range result.Items {
			fmt.Fprintf(stdout, "%s\t%s\n", item.Description, item.Price.StringFixed(2))
		}
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(receipt.ExtractResult{
		ItemsFound:   len(result.Items),
		Items:        result.Items,
		SkippedLines: result.Skipped,
	})
}
