package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivEndpoint = "https://export.arxiv.org/api/query?"

// Arxiv queries the arXiv Atom API. Useful as a backend for academic topics
// where general web search returns mostly secondary coverage.
type Arxiv struct {
	Client     *http.Client
	MaxResults int
}

func NewArxiv(maxResults int) *Arxiv {
	if maxResults < 1 {
		maxResults = 5
	}
	return &Arxiv{
		Client:     &http.Client{Timeout: 20 * time.Second},
		MaxResults: maxResults,
	}
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

type arxivEntry struct {
	Title   string      `xml:"title"`
	Summary string      `xml:"summary"`
	ID      string      `xml:"id"`
	Link    []arxivLink `xml:"link"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

func (a *Arxiv) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(a.MaxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivEndpoint+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned status %d: %s", resp.StatusCode, string(body))
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]research.SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		u := entry.ID
		// Prefer the PDF link; the abstract page is mostly chrome.
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				u = link.Href
				break
			}
		}
		if u == "" {
			continue
		}
		results = append(results, research.SearchResult{
			Title:   strings.TrimSpace(entry.Title),
			URL:     u,
			Snippet: strings.TrimSpace(entry.Summary),
		})
	}
	return results, nil
}
