package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/xhad/stager/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	UserAgent         string
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *zap.Logger
}

// Scraper fetches pages and turns them into documents whose paragraphs are
// separated by blank lines, so the chunker can split on them.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	baseHost string
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "stager/1.0"
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".txt", "/", ""}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:   config.Logger,
		baseHost: parsedURL.Host,
	}, nil
}

func New(baseURL string) *Scraper {
	s, _ := NewWithConfig(ScraperConfig{
		BaseURL: baseURL,
	})
	return s
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td"

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func cleanLine(content string) string {
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.Join(strings.Fields(content), " ")
}

// extractParagraphs returns the readable text of the page's main content area
// with one blank line between block elements.
func extractParagraphs(doc *goquery.Document) string {
	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	root := doc.Find("body")
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected.First()
			break
		}
	}
	root.Find("script, style, nav, noscript").Remove()

	var paragraphs []string
	root.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		// nested blocks are covered by their outermost ancestor
		if block.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		if text := cleanLine(block.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	if len(paragraphs) == 0 {
		return cleanLine(root.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

// Fetch downloads a single page. Plain text bodies are kept as they are.
func (s *Scraper) Fetch(ctx context.Context, urlStr string) (models.Document, error) {
	document, _, err := s.fetch(ctx, urlStr)
	return document, err
}

// fetch also returns the parsed page, or nil for plain text, so the crawler
// can follow its links.
func (s *Scraper) fetch(ctx context.Context, urlStr string) (models.Document, *goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	document := models.Document{
		ID:  uuid.NewString(),
		URL: urlStr,
		Metadata: map[string]interface{}{
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return models.Document{}, nil, err
		}
		document.Content = string(body)
		return document, nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, nil, err
	}
	document.Title = strings.TrimSpace(doc.Find("title").First().Text())
	document.Content = extractParagraphs(doc)

	return document, doc, nil
}

// Scrape fetches urlStr and follows same-host links up to MaxDepth.
func (s *Scraper) Scrape(ctx context.Context, urlStr string) ([]models.Document, error) {
	var documents []models.Document
	visited := make(map[string]bool)
	err := s.scrapeRecursive(ctx, urlStr, 0, visited, &documents)
	return documents, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, visited map[string]bool, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || visited[urlStr] {
		return nil
	}

	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	document, doc, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}
	document.Metadata["depth"] = depth
	*documents = append(*documents, document)

	if doc == nil {
		return nil
	}

	base, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	// Find and follow links
	doc.Find("a[href]").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}
		href, _ := selection.Attr("href")
		link, err := url.Parse(href)
		if err != nil {
			s.logger.Debug("skipping link", zap.String("href", href), zap.Error(err))
			return true
		}
		link = base.ResolveReference(link)
		link.Fragment = ""

		if err := s.scrapeRecursive(ctx, link.String(), depth+1, visited, documents); err != nil {
			s.logger.Warn("failed to scrape page", zap.String("url", link.String()), zap.Error(err))
		}
		return true
	})

	return ctx.Err()
}
