package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// Feeds reads generic RSS/Atom tender feeds, such as agency bid boards that
// publish notices as feed items.
type Feeds struct {
	HTTP  *HTTPClient
	Feeds []FeedConfig
}

func (f *Feeds) Name() string { return "Feeds" }

// Fetch parses every configured feed. A broken feed is logged and skipped;
// an error is returned only when every feed failed.
func (f *Feeds) Fetch(ctx context.Context, b Budget) ([]notice.Notice, error) {
	parser := gofeed.NewParser()
	var all []notice.Notice
	var errs []error
	for _, fc := range f.Feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}
		entries, err := f.parseFeed(ctx, parser, fc.URL, name, b.MaxRecords)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		all = append(all, entries...)
		log.Printf("Parsed %d entries from %s", len(entries), name)
	}
	if len(all) == 0 && len(errs) == len(f.Feeds) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

func (f *Feeds) parseFeed(ctx context.Context, parser *gofeed.Parser, feedURL, sourceName string, max int) ([]notice.Notice, error) {
	data, err := f.HTTP.Get(ctx, feedURL, http.Header{"Accept": {"application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8"}})
	if err != nil {
		return nil, err
	}
	feed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var entries []notice.Notice
	for _, item := range feed.Items {
		if max > 0 && len(entries) >= max {
			break
		}
		if n, ok := parseItem(item, sourceName); ok {
			entries = append(entries, n)
		}
	}
	return entries, nil
}

func parseItem(item *gofeed.Item, source string) (notice.Notice, bool) {
	itemURL := notice.FirstNonEmpty(item.Link, item.GUID)
	title := notice.Clean(item.Title)
	if itemURL == "" || title == "" {
		return notice.Notice{}, false
	}

	var posted string
	if item.PublishedParsed != nil {
		posted = item.PublishedParsed.Format(notice.DateLayout)
	} else if item.UpdatedParsed != nil {
		posted = item.UpdatedParsed.Format(notice.DateLayout)
	}

	var agency string
	if item.Author != nil {
		agency = item.Author.Name
	}
	category := "Tender"
	if len(item.Categories) > 0 {
		category = notice.FirstNonEmpty(item.Categories[0], category)
	}

	return notice.Notice{
		Source:      source,
		Title:       title,
		Description: stripHTML(notice.FirstNonEmpty(item.Content, item.Description)),
		URL:         notice.EnsureScheme(itemURL),
		Agency:      notice.FirstNonEmpty(agency, source),
		Category:    category,
		PostedDate:  posted,
	}, true
}

func stripHTML(text string) string {
	if text == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return notice.Clean(text)
	}
	return notice.Clean(spacedText(doc.Selection))
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
