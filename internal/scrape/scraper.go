// Package scrape fetches a source page and extracts a best-effort
// {title, content, image} triple. Extraction is heuristic and lossy by
// design: og: metadata first, then the main content container, then the
// whole page when the container yields too little text.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
)

// Result is what the pipeline knows about a scraped page. Any field may be
// empty except Content.
type Result struct {
	Title    string
	Content  string // markdown-flattened text of the main content
	ImageURL string
}

// HTTPError is returned when the source responds with a non-2xx status.
// The pipeline inspects StatusCode to separate upstream rate limiting
// (429, free retry) from ordinary fetch failures (attempt-consuming).
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch failed (%d) for %s", e.StatusCode, e.URL)
}

// IsRateLimited reports whether the source throttled us.
func (e *HTTPError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsTransient reports server-side trouble worth retrying at the call site.
func (e *HTTPError) IsTransient() bool { return e.StatusCode >= 500 }

// Scraper fetches and extracts source articles.
type Scraper struct {
	client    *http.Client
	userAgent string
	minChars  int
	converter *md.Converter

	// fetch retry knobs, relaxed in tests
	fetchTries    int
	fetchInterval time.Duration
}

// New builds a Scraper. timeout bounds the whole fetch; minChars is the
// threshold below which container extraction falls back to full-page text.
func New(timeout time.Duration, userAgent string, minChars int) *Scraper {
	return &Scraper{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		minChars:      minChars,
		converter:     md.NewConverter("", true, nil),
		fetchTries:    3,
		fetchInterval: 2 * time.Second,
	}
}

// Scrape fetches sourceURL and extracts title, content, and lead image. It
// degrades rather than fails: a page with no <article>/<main> container or a
// too-short container still yields the stripped full-page text, and a page
// with no og:title falls back to <title> and finally to the hostname.
func (s *Scraper) Scrape(ctx context.Context, sourceURL string) (*Result, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", sourceURL)
	}

	doc, err := s.fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}

	title := pageTitle(doc)
	if title == "" {
		title = u.Hostname()
	}

	content := s.mainContent(doc)
	if len(content) < s.minChars {
		// fallback to stripping the full page
		if full := s.htmlToText(doc.Selection); len(full) > len(content) {
			content = full
		}
	}

	return &Result{
		Title:    title,
		Content:  content,
		ImageURL: metaContent(doc, "og:image", "twitter:image"),
	}, nil
}

// fetch downloads and parses the page. 5xx answers and network failures are
// retried with capped exponential backoff; 4xx surfaces immediately, so a 429
// reaches the pipeline's own free-retry handling without extra hammering.
func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	op := func() (*goquery.Document, error) {
		doc, err := s.fetchOnce(ctx, pageURL)
		if err == nil {
			return doc, nil
		}
		var he *HTTPError
		if errors.As(err, &he) && !he.IsTransient() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.fetchInterval
	bo.MaxInterval = 10 * s.fetchInterval

	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(s.fetchTries)))
}

func (s *Scraper) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: pageURL}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// pageTitle prefers og:title over the document title.
func pageTitle(doc *goquery.Document) string {
	if t := metaContent(doc, "og:title"); t != "" {
		return t
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

// metaContent returns the first non-empty content attribute among the given
// meta property/name keys.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// mainContent extracts text from the most article-like container.
func (s *Scraper) mainContent(doc *goquery.Document) string {
	for _, sel := range []string{"article", "main", "body"} {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := s.htmlToText(node); text != "" {
			return text
		}
	}
	return ""
}

// htmlToText renders a node as markdown (paragraph structure preserved, tags
// and boilerplate entities gone) and tidies the whitespace. Script, style,
// and nav noise is dropped before conversion.
func (s *Scraper) htmlToText(node *goquery.Selection) string {
	node = node.Clone()
	node.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()

	html, err := goquery.OuterHtml(node)
	if err != nil {
		return ""
	}
	text, err := s.converter.ConvertString(html)
	if err != nil {
		return ""
	}
	return tidyText(text)
}

// tidyText trims trailing space per line and collapses blank-line runs.
func tidyText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
	var out []string
	blank := true // swallow leading blanks
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
