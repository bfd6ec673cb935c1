// Package parse adapts github.com/mmcdole/gofeed — the teacher's feed
// parser dependency — into the ports.FeedParser contract the GET action
// consumes. The item-flattening rules (GUID falls back to link,
// published-at falls back to fetch time, content falls back to
// description) are carried over from the teacher's
// internal/rss/fetcher.go FetchFeed loop.
package parse

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedscheduler/internal/feedhash"
	"github.com/bryan-buckman/feedscheduler/internal/model"
)

// GofeedParser implements ports.FeedParser via gofeed.Parser.
type GofeedParser struct {
	parser *gofeed.Parser
}

// New constructs a GofeedParser.
func New() *GofeedParser {
	return &GofeedParser{parser: gofeed.NewParser()}
}

// Parse decodes body as an RSS/Atom/JSON feed and flattens its entries
// into model.FeedItem. feedURL is used only for error context.
func (p *GofeedParser) Parse(feedURL string, body []byte) ([]model.FeedItem, error) {
	parsed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feedURL, err)
	}

	now := time.Now().UnixMilli()
	items := make([]model.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		guid := it.GUID
		if guid == "" {
			guid = it.Link
		}
		if guid == "" {
			continue
		}

		publishedAtMs := now
		if it.PublishedParsed != nil {
			publishedAtMs = it.PublishedParsed.UnixMilli()
		}

		content := it.Content
		if content == "" {
			content = it.Description
		}

		items = append(items, model.FeedItem{
			ItemID:        itemID(guid, it.Link, it.Title),
			Title:         it.Title,
			Link:          it.Link,
			Content:       content,
			PublishedAtMs: publishedAtMs,
		})
	}
	return items, nil
}

// itemID derives a stable identifier by hashing guid, link and title
// together, so storage keys stay a bounded size regardless of upstream
// GUID length.
func itemID(guid, link, title string) string {
	var b strings.Builder
	b.WriteString(guid)
	b.WriteByte('\x00')
	b.WriteString(link)
	b.WriteByte('\x00')
	b.WriteString(title)
	return feedhash.Stable([]byte(b.String()))
}
