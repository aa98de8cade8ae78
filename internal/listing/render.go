package listing

import (
	"bytes"
	"strings"
)

// shellBodyThreshold is the size under which a script-heavy page is treated
// as an unrendered application shell.
const shellBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("__NUXT__"),
}

// NeedsRendering reports whether html looks like a client-rendered shell
// whose listing data only appears after scripts run. The plain HTTP engine
// uses it to explain empty results.
func NeedsRendering(html []byte) bool {
	if len(html) == 0 {
		return true
	}
	if len(html) < shellBodyThreshold && scriptShare(html) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(html, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of html covered by <script> elements.
func scriptShare(html []byte) int {
	lower := strings.ToLower(string(html))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			// Unterminated tag swallows the rest.
			covered += total - start
			break
		}
		body := start + gt + 1
		end := strings.Index(lower[body:], closeTag)
		next := total
		if end != -1 {
			next = body + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
