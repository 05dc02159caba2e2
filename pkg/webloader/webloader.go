// Package webloader fetches web pages for ingestion: a shallow same-host
// crawl that extracts the main text content of each page.
package webloader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Page is one fetched page, ready for chunking. URL doubles as the source id.
type Page struct {
	URL     string
	Title   string
	Content string
}

type Config struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
}

type Loader struct {
	config   Config
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

func NewWithConfig(config Config) (*Loader, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Loader{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

// Load crawls from the configured base URL up to MaxDepth links deep, staying
// on the same host.
func (l *Loader) Load(ctx context.Context) ([]Page, error) {
	var pages []Page
	err := l.loadRecursive(ctx, l.config.BaseURL, 0, &pages)
	return pages, err
}

func (l *Loader) loadRecursive(ctx context.Context, urlStr string, depth int, pages *[]Page) error {
	if depth > l.config.MaxDepth || l.visited[urlStr] {
		return nil
	}
	if !l.shouldProcessURL(urlStr) {
		return nil
	}

	l.visited[urlStr] = true
	if l.config.OnProgress != nil {
		l.config.OnProgress(urlStr)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	content := l.extractMainContent(doc)
	if content != "" {
		*pages = append(*pages, Page{
			URL:     urlStr,
			Title:   strings.TrimSpace(doc.Find("title").Text()),
			Content: content,
		})
	}

	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists {
			return
		}

		absoluteURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !absoluteURL.IsAbs() {
			base, err := url.Parse(urlStr)
			if err != nil {
				return
			}
			absoluteURL = base.ResolveReference(absoluteURL)
		}
		absoluteURL.Fragment = ""

		if err := l.loadRecursive(ctx, absoluteURL.String(), depth+1, pages); err != nil {
			log.Printf("webloader: %s: %v", absoluteURL, err)
		}
	})

	return nil
}

func (l *Loader) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != l.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, ext := range l.config.AllowedExtensions {
		if strings.HasSuffix(path, ext) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range l.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (l *Loader) extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}
