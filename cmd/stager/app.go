package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/xhad/stager/internal/models"
	cfgPkg "github.com/xhad/stager/pkg/config"
	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/llm"
	"github.com/xhad/stager/pkg/processor"
	"github.com/xhad/stager/pkg/queue"
	"github.com/xhad/stager/pkg/scraper"
	"github.com/xhad/stager/pkg/stages"
	"github.com/xhad/stager/pkg/store"
	"github.com/xhad/stager/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg    *cfgPkg.Config
	logger *zap.Logger
	limits limits.Limits
	queue  *queue.Queue
	store  *store.StageStore
}

func newApp(cfg *cfgPkg.Config, logger *zap.Logger) (*app, error) {
	l, err := cfg.LimitsConfig()
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		limits: l,
		// every model call in the process goes through this one queue
		queue: queue.New(queue.Config{
			RateLimit:   cfg.Queue.RateLimit,
			Burst:       cfg.Queue.Burst,
			TaskTimeout: cfg.Queue.TaskTimeout,
			Logger:      logger,
		}),
	}, nil
}

func (a *app) Close() {
	a.queue.Close()
	if a.store != nil {
		a.store.Close()
	}
}

// openStore connects on first use. Without a database URL it returns nil and
// runs are not persisted.
func (a *app) openStore(ctx context.Context) (*store.StageStore, error) {
	if a.store != nil || a.cfg.Database.URL == "" {
		return a.store, nil
	}
	s, err := store.NewWithConfig(ctx, store.StageStoreConfig{
		ConnString: a.cfg.Database.URL,
		TableName:  a.cfg.Database.TableName,
		VectorDim:  a.cfg.Database.VectorDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stage store: %w", err)
	}
	a.store = s
	return s, nil
}

func (a *app) chatEngine() (*llm.ChatEngine, error) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       a.cfg.LLM.Model,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		BaseURL:     a.cfg.LLM.BaseURL,
		Temperature: a.cfg.LLM.Temperature,
		Limits:      a.limits,
	}, a.queue)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	return engine, nil
}

func (a *app) embedder() (*llm.Embedder, error) {
	return llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   a.cfg.LLM.EmbeddingModel,
		BaseURL: a.cfg.LLM.BaseURL,
	}, a.queue)
}

func (a *app) processor() (processor.Processor, error) {
	return processor.NewWithConfig(processor.ProcessorConfig{
		Limits:            a.limits,
		TruncateOversized: a.cfg.Processor.TruncateOversized,
	})
}

func (a *app) input(ctx context.Context, opts Options) ([]models.Document, error) {
	switch {
	case opts.File != "":
		var data []byte
		var err error
		if opts.File == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(opts.File)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		return []models.Document{{
			ID:      uuid.NewString(),
			Title:   filepath.Base(opts.File),
			Content: string(data),
		}}, nil

	case opts.URL != "":
		s, err := scraper.NewWithConfig(scraper.ScraperConfig{
			BaseURL:           opts.URL,
			MaxDepth:          a.cfg.Scraper.MaxDepth,
			RateLimit:         a.cfg.Scraper.RateLimit,
			UserAgent:         a.cfg.Scraper.UserAgent,
			IgnorePatterns:    a.cfg.Scraper.IgnorePatterns,
			AllowedExtensions: a.cfg.Scraper.AllowedExtensions,
			Logger:            a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize scraper: %w", err)
		}
		if !opts.Crawl {
			doc, err := s.Fetch(ctx, opts.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch %s: %w", opts.URL, err)
			}
			return []models.Document{doc}, nil
		}

		spinner := getSpinner("Crawling " + opts.URL)
		docs, err := s.Scrape(ctx, opts.URL)
		spinner.Finish()
		if err != nil {
			return nil, fmt.Errorf("failed to scrape documents: %w", err)
		}
		color.Green("\n✓ Fetched %d pages", len(docs))
		return docs, nil
	}
	return nil, errors.New("no input: pass -file or -url")
}

func (a *app) validate(docs []models.Document) error {
	for _, doc := range docs {
		v := a.limits.Validate(doc.Content)
		name := displayName(doc)
		switch {
		case v.ExceedsLimit:
			color.Red("✗ %s: %d units, %d chars exceeds %d units / %d chars", name, v.UnitCount, v.CharCount, v.Limits.MaxUnits, v.Limits.MaxChars)
		case v.NeedsWarning:
			color.Yellow("! %s: %d units, %d chars is close to the %d unit limit", name, v.UnitCount, v.CharCount, v.Limits.MaxUnits)
		default:
			color.Green("✓ %s: %d units, %d chars", name, v.UnitCount, v.CharCount)
		}
	}
	return nil
}

func (a *app) truncate(docs []models.Document) error {
	for _, doc := range docs {
		res := processor.Truncate(doc.Content, a.limits)
		if res.WasTruncated {
			color.New(color.FgYellow).Fprintf(os.Stderr, "%s: %d -> %d chars, about %d units saved\n",
				displayName(doc), res.OriginalLength, res.NewLength, res.UnitsSaved)
		}
		fmt.Println(res.Text)
	}
	return nil
}

func (a *app) chunk(docs []models.Document) error {
	p, err := a.processor()
	if err != nil {
		return err
	}
	staged, err := p.Process(docs)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(staged)
}

// summarize runs every document's stages through the model one after the
// other and stores the run when a database is configured.
func (a *app) summarize(ctx context.Context, docs []models.Document) error {
	engine, err := a.chatEngine()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	p, err := a.processor()
	if err != nil {
		return err
	}
	staged, err := p.Process(docs)
	if err != nil {
		return err
	}

	for _, sd := range staged {
		name := displayName(sd.Document)
		color.Blue("\n%s: %d units in %d stages", name, sd.Validation.UnitCount, len(sd.Stages))

		bar := getProgressBar(len(sd.Stages), "Summarizing stages...")
		result := stages.Run(ctx, sd.Stages, engine.StageProcessor(), stages.ExecutorConfig{
			OnProgress: func(completed, total int, current *stages.Stage) {
				if current.Status.Settled() {
					bar.Set(completed)
					return
				}
				bar.Describe(color.BlueString("Summarizing %s (%d/%d)...", current.ID, current.Index+1, total))
			},
			StageTimeout: a.cfg.Executor.StageTimeout,
			Logger:       a.logger,
		})
		bar.Finish()

		for _, failed := range result.Failed() {
			color.Red("\n✗ %s: %s", failed.ID, failed.ErrorMessage)
		}
		if result.IsComplete {
			color.Green("\n✓ All %d stages completed", len(result.Stages))
		} else {
			color.Yellow("\n! %d of %d stages completed", len(result.CombinedResults), len(result.Stages))
		}
		for i := range result.Stages {
			if out, ok := result.StageResult(i); ok {
				color.Cyan("\n[%s]", result.Stages[i].ID)
				fmt.Println(out)
			}
		}

		if st != nil {
			if err := a.save(ctx, st, sd.Document, result); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (a *app) save(ctx context.Context, st *store.StageStore, doc models.Document, result stages.StagedResult[string]) error {
	run := store.RunFromResult(doc, result)

	emb, err := a.embedder()
	if err != nil {
		return err
	}
	vectors := stages.Run(ctx, result.Stages, emb.StageProcessor(), stages.ExecutorConfig{
		StageTimeout: a.cfg.Executor.StageTimeout,
		Logger:       a.logger,
	})
	store.AttachEmbeddings(&run, vectors)

	if err := st.SaveRun(ctx, &run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	color.Green("✓ Saved run %s", run.ID)
	return nil
}

// similar embeds query and returns the closest stored stages.
func (a *app) similar(ctx context.Context, mode, query string) ([]models.StageMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("%s needs -query", mode)
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%s needs database.url or -db-url", mode)
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}

	spinner := getSpinner("Searching stored stages...")
	vectors, err := emb.Embed(ctx, []string{query})
	if err != nil {
		spinner.Finish()
		return nil, err
	}
	matches, err := st.Similar(ctx, vectors[0], 0)
	spinner.Finish()
	fmt.Print("\r")
	return matches, err
}

func (a *app) search(ctx context.Context, query string) error {
	matches, err := a.similar(ctx, "search", query)
	if err != nil {
		return err
	}

	for _, m := range matches {
		color.Cyan("\n%s %s (run %s, distance %.3f)", m.URL, m.Stage.ID, m.RunID, m.Distance)
		if m.Result != "" {
			fmt.Println(m.Result)
		} else {
			fmt.Println(m.Stage.Content)
		}
	}
	return nil
}

// ask answers query from the stored summaries closest to it.
func (a *app) ask(ctx context.Context, query string) error {
	matches, err := a.similar(ctx, "ask", query)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		color.Yellow("No stored stages match %q", query)
		return nil
	}

	engine, err := a.chatEngine()
	if err != nil {
		return err
	}

	spinner := getSpinner("Thinking...")
	answer, err := engine.Answer(ctx, query, matches)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	color.Green("\n%s", answer)
	a.logger.Info("answered from stored stages", zap.Int("matches", len(matches)))
	return nil
}

func (a *app) serve(ctx context.Context) error {
	engine, err := a.chatEngine()
	if err != nil {
		return err
	}
	config := server.Config{
		Limits:       a.limits,
		StageTimeout: a.cfg.Executor.StageTimeout,
		Logger:       a.logger,
		Summarizer:   engine,
	}
	fetcher, err := scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit: a.cfg.Scraper.RateLimit,
		UserAgent: a.cfg.Scraper.UserAgent,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}
	config.Fetcher = fetcher

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		emb, err := a.embedder()
		if err != nil {
			return err
		}
		config.Store = st
		config.Embedder = emb
	}

	srv, err := server.New(config)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutting down server")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func displayName(doc models.Document) string {
	switch {
	case doc.Title != "":
		return doc.Title
	case doc.URL != "":
		return doc.URL
	default:
		return doc.ID
	}
}
