package research

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPClient queries an HTML search endpoint and scrapes result titles,
// links and snippets. It expects a DuckDuckGo-style result page.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient wires an HTTP client against a search base URL, e.g.
// https://html.duckduckgo.com/html.
func NewHTTPClient(client *http.Client, baseURL string) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Search runs one query and returns at most limit results.
func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Evidence, error) {
	if limit <= 0 {
		limit = 5
	}

	doc, err := c.fetchDocument(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]Evidence, 0, limit)
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		if title == "" || href == "" {
			return true
		}
		results = append(results, Evidence{
			Query:   query,
			Title:   title,
			URL:     href,
			Snippet: snippet,
			Source:  hostOf(href),
		})
		return len(results) < limit
	})
	return results, nil
}

func (c *HTTPClient) fetchDocument(ctx context.Context, query string) (*goquery.Document, error) {
	searchURL := fmt.Sprintf("%s/?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "signals-research/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return doc, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}
