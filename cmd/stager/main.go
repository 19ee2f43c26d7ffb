package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/stager/pkg/config"
	"github.com/xhad/stager/pkg/logging"
)

type Options struct {
	ConfigPath string
	Mode       string
	File       string
	URL        string
	Crawl      bool
	Query      string
	BaseURL    string
	DBUrl      string
	Model      string
	Addr       string
}

const usage = `stager splits documents that are too large for a model into bounded stages.

Modes:
  validate   report size estimates against the limits
  truncate   cut the input down to fit and print it
  chunk      print the stages as JSON
  run        summarize every stage through the model, in order
  search     find stored stages similar to -query
  ask        answer -query from the closest stored summaries
  serve      start the HTTP and websocket server
`

func main() {
	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags() Options {
	var opts Options

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage+"\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.Mode, "mode", "validate", "validate, truncate, chunk, run, search, ask or serve")
	flag.StringVar(&opts.File, "file", "", "Input file, - for stdin")
	flag.StringVar(&opts.URL, "url", "", "Page to fetch as input")
	flag.BoolVar(&opts.Crawl, "crawl", false, "Follow same-host links from -url up to scraper.max_depth")
	flag.StringVar(&opts.Query, "query", "", "Text to search stored stages for")
	flag.StringVar(&opts.BaseURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&opts.DBUrl, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&opts.Model, "model", "", "LLM model to use")
	flag.StringVar(&opts.Addr, "addr", "", "Listen address for serve")
	flag.Parse()

	opts.Mode = strings.ToLower(opts.Mode)
	return opts
}

// loadConfig reads the config file and lets explicitly set flags win.
func loadConfig(opts Options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.BaseURL != "" {
		cfg.LLM.BaseURL = opts.BaseURL
	}
	if opts.DBUrl != "" {
		cfg.Database.URL = opts.DBUrl
	}
	if opts.Model != "" {
		cfg.LLM.Model = opts.Model
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Yellow("config: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}
	return cfg, nil
}

func run(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch opts.Mode {
	case "serve":
		return app.serve(ctx)
	case "search":
		return app.search(ctx, opts.Query)
	case "ask":
		return app.ask(ctx, opts.Query)
	case "validate", "truncate", "chunk", "run":
	default:
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}

	docs, err := app.input(ctx, opts)
	if err != nil {
		return err
	}

	switch opts.Mode {
	case "validate":
		return app.validate(docs)
	case "truncate":
		return app.truncate(docs)
	case "chunk":
		return app.chunk(docs)
	default:
		return app.summarize(ctx, docs)
	}
}
