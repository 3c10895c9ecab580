// Package websearch implements the optional web-search collaborator
// (§6 "Web search: optional, consumed by the external-validator agent
// for cross-referencing"): RSS/Atom news feeds parsed with gofeed, plus
// direct page scraping with goquery/cascadia for sources with no feed.
package websearch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/mmcdole/gofeed"
)

// Client searches a fixed set of news feeds and, optionally, scrapes a
// results page for sources that expose no feed.
type Client struct {
	feedParser  *gofeed.Parser
	feedURLs    []string
	scrapeURL   string // optional; empty disables page scraping
	httpClient  *http.Client
	resultLimit int
}

// New constructs a Client. feedURLs are polled on every Search call;
// scrapeURL, if non-empty, is additionally fetched and scraped for
// headline links.
func New(feedURLs []string, scrapeURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		feedParser:  gofeed.NewParser(),
		feedURLs:    feedURLs,
		scrapeURL:   scrapeURL,
		httpClient:  httpClient,
		resultLimit: 20,
	}
}

// Search satisfies agent.WebSearcher: returns headline/snippet strings
// matching query across every configured feed and, if set, the scrape
// target.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	var results []string

	for _, url := range c.feedURLs {
		feed, err := c.feedParser.ParseURLWithContext(url, ctx)
		if err != nil {
			continue // one bad feed must not fail the whole search
		}
		for _, item := range feed.Items {
			if !matches(item.Title, query) && !matches(item.Description, query) {
				continue
			}
			results = append(results, fmt.Sprintf("%s: %s", item.Title, item.Link))
			if len(results) >= c.resultLimit {
				return results, nil
			}
		}
	}

	if c.scrapeURL != "" {
		scraped, err := c.scrapePage(ctx, query)
		if err == nil {
			results = append(results, scraped...)
		}
	}

	return results, nil
}

// scrapePage fetches scrapeURL and extracts headline links whose text
// matches query, using cascadia directly to compile the selector once
// rather than goquery's string-selector convenience path.
func (c *Client) scrapePage(ctx context.Context, query string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.scrapeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: fetching %s: %w", c.scrapeURL, err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: parsing %s: %w", c.scrapeURL, err)
	}

	selector, err := cascadia.Compile("a.headline")
	if err != nil {
		return nil, fmt.Errorf("websearch: compiling selector: %w", err)
	}

	var results []string
	for _, node := range cascadia.QueryAll(doc.Get(0), selector) {
		text := goquery.NewDocumentFromNode(node).Text()
		if matches(text, query) {
			href, _ := goquery.NewDocumentFromNode(node).Attr("href")
			results = append(results, fmt.Sprintf("%s: %s", text, href))
		}
		if len(results) >= c.resultLimit {
			break
		}
	}
	return results, nil
}

func matches(haystack, query string) bool {
	if haystack == "" || query == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(query))
}
