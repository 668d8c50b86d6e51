// Package search provides web search backends for the research engine.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

// One query per second across every DuckDuckGo instance; the lite endpoint
// bans aggressive clients quickly.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

const ddgEndpoint = "https://lite.duckduckgo.com/lite/"

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DuckDuckGo scrapes the DuckDuckGo HTML lite results page. It needs no API
// key, which makes it the default backend.
type DuckDuckGo struct {
	Client     *http.Client
	MaxResults int
}

func NewDuckDuckGo(maxResults int) *DuckDuckGo {
	if maxResults < 1 {
		maxResults = 5
	}
	return &DuckDuckGo{
		Client:     &http.Client{Timeout: 15 * time.Second},
		MaxResults: maxResults,
	}
}

// Search posts the query to the lite endpoint and parses the result table.
// 429 responses are retried with doubling delay up to 30 seconds.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	ddgRateLimit.mu.Lock()
	if wait := time.Until(ddgRateLimit.last.Add(time.Second)); wait > 0 {
		ddgRateLimit.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		ddgRateLimit.mu.Lock()
	}
	ddgRateLimit.last = time.Now()
	ddgRateLimit.mu.Unlock()

	form := url.Values{}
	form.Set("q", query)

	var resp *http.Response
	delay := time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgEndpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.Client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseLiteResults(string(body), d.MaxResults), nil
}

var (
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	ddgLinkPatternAlt = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)
	anyLinkPattern    = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// parseLiteResults extracts results from the lite HTML. The page is a plain
// table of result-link anchors followed by result-snippet cells.
func parseLiteResults(html string, max int) []research.SearchResult {
	matches := ddgLinkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = ddgLinkPatternAlt.FindAllStringSubmatch(html, -1)
	}
	snippets := ddgSnippetPattern.FindAllStringSubmatch(html, -1)

	var results []research.SearchResult
	for i, m := range matches {
		if len(m) < 3 {
			continue
		}
		u := strings.TrimSpace(m[1])
		title := decodeEntities(m[2])
		if u == "" || title == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) && len(snippets[i]) > 1 {
			snippet = decodeEntities(snippets[i][1])
		}
		results = append(results, research.SearchResult{Title: title, URL: u, Snippet: snippet})
		if len(results) >= max {
			break
		}
	}

	if len(results) == 0 {
		results = looseParse(html, max)
	}
	return results
}

// looseParse is the fallback when the markup changed: take any external link
// with a plausible title.
func looseParse(html string, max int) []research.SearchResult {
	var results []research.SearchResult
	seen := make(map[string]bool)
	for _, m := range anyLinkPattern.FindAllStringSubmatch(html, -1) {
		if len(m) < 3 {
			continue
		}
		u := strings.TrimSpace(m[1])
		title := decodeEntities(m[2])
		if strings.Contains(u, "duckduckgo.com") ||
			strings.HasPrefix(u, "/") ||
			strings.HasPrefix(u, "#") ||
			strings.HasPrefix(u, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[u] {
			continue
		}
		seen[u] = true
		results = append(results, research.SearchResult{Title: title, URL: u})
		if len(results) >= max {
			break
		}
	}
	return results
}

func decodeEntities(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(r.Replace(s))
}
