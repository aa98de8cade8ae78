package listing

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseListingLinks collects the hrefs in html that contain marker, resolves
// them against base and strips query strings and fragments. The result keeps
// page order, holds no duplicates and is capped at maxResults.
func ParseListingLinks(html []byte, base *url.URL, marker string, maxResults int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	seen := make(map[string]struct{})
	links := make([]string, 0, maxResults)
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if maxResults > 0 && len(links) >= maxResults {
			return false
		}
		href, _ := sel.Attr("href")
		clean, ok := cleanLink(base, href)
		if !ok || !strings.Contains(clean, marker) {
			return true
		}
		if _, dup := seen[clean]; dup {
			return true
		}
		seen[clean] = struct{}{}
		links = append(links, clean)
		return true
	})
	return links, nil
}

func cleanLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.RawQuery = ""
	ref.ForceQuery = false
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String(), true
}
