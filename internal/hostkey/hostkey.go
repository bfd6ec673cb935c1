// Package hostkey derives the per-feed concurrency key (spec.md's
// FeedConfig.domain) from a feed URL. original_source/src/main.rs's
// benchmark feed stream sets domain to the URL's literal host verbatim
// (domain: "bench.example.com" for url "https://bench.example.com/{i}.xml",
// with no registrable-domain reduction applied), so Derive returns the
// bare host rather than an eTLD+1 bucket: two different hostnames always
// get two different concurrency guards, matching spec.md §4.3's mapping
// from host to semaphore.
package hostkey

import (
	"net/url"
	"strings"
)

// Derive returns the lower-cased host for rawURL, falling back to the
// raw string when it can't be parsed into a URL with a host.
func Derive(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := u.Hostname()
	if host == "" {
		return rawURL
	}
	return strings.ToLower(host)
}
