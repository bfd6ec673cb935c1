// Package opml handles importing and exporting OPML catalogs of feeds,
// bridging them into model.FeedConfig rows for Repo.UpsertFeedsBulk. The
// outline parse/export mechanics are the teacher's
// (internal/opml/opml.go), with Export's Head.DateCreated now localized
// by the caller's configured timezone instead of the server's local
// clock — FolderPath/reader-oriented concerns are otherwise dropped in
// favor of ToFeedConfigs, which derives the scheduler's per-feed
// identity and concurrency domain from each entry's URL. cmd/seedfeeds
// is the caller on both sides of the round-trip: -opml drives Parse +
// ToFeedConfigs, -export drives Export against the catalog read back
// from Repo.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/feedscheduler/internal/feedhash"
	"github.com/bryan-buckman/feedscheduler/internal/hostkey"
	"github.com/bryan-buckman/feedscheduler/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry represents a flattened feed with its folder path. FolderPath
// is carried through for Export round-tripping; the scheduler catalog
// itself is flat (spec.md's FeedConfig has no folder concept).
type FeedEntry struct {
	FolderPath []string
	Title      string
	URL        string
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        o.XMLURL,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// ToFeedConfigs converts parsed OPML entries into model.FeedConfig rows
// ready for Repo.UpsertFeedsBulk. FeedID is derived deterministically
// from the URL (stable across re-imports, satisfying spec.md §8
// property 7: re-ingesting the same catalog must yield identical rows).
// Domain is the literal host the concurrency guard buckets on.
func ToFeedConfigs(entries []FeedEntry, basePollSeconds int64) []model.FeedConfig {
	out := make([]model.FeedConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.FeedConfig{
			ID:              feedhash.Stable([]byte(e.URL)),
			URL:             e.URL,
			Domain:          hostkey.Derive(e.URL),
			BasePollSeconds: basePollSeconds,
		})
	}
	return out
}

// Export generates an OPML document from the entries in folders. The map
// keys are not used: an entry with no FolderPath becomes a root outline,
// and any other entry goes under a folder outline named after the first
// element of its FolderPath (one folder outline per distinct path). loc
// localizes the head's DateCreated timestamp; pass time.UTC if no
// preference applies.
func Export(title string, folders map[string][]FeedEntry, loc *time.Location) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().In(loc).Format(time.RFC1123Z),
		},
	}

	folderOutlines := make(map[string]*Outline)
	var rootOutlines []Outline

	for _, entries := range folders {
		for _, e := range entries {
			feedOutline := Outline{
				Text:   e.Title,
				Title:  e.Title,
				Type:   "rss",
				XMLURL: e.URL,
			}
			if len(e.FolderPath) == 0 {
				rootOutlines = append(rootOutlines, feedOutline)
			} else {
				folderName := strings.Join(e.FolderPath, "/")
				if fo, ok := folderOutlines[folderName]; ok {
					fo.Outlines = append(fo.Outlines, feedOutline)
				} else {
					folderOutlines[folderName] = &Outline{
						Text:     e.FolderPath[0],
						Title:    e.FolderPath[0],
						Outlines: []Outline{feedOutline},
					}
				}
			}
		}
	}

	for _, fo := range folderOutlines {
		rootOutlines = append(rootOutlines, *fo)
	}
	doc.Body.Outlines = rootOutlines

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
