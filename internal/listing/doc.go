// Package listing parses marketplace markup: search result pages into
// candidate listing URLs and listing pages into offer records.
//
// Parsing is engine agnostic. The chromedp and colly sessions both hand the
// rendered HTML to this package, so markup changes are fixed in one place.
package listing
