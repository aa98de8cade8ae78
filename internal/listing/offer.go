package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// StructuredDataSelector matches JSON-LD blocks.
const StructuredDataSelector = `script[type="application/ld+json"]`

type node = map[string]any

// ParseOffer reads the offer on a listing page. A JSON-LD Product block is
// authoritative. DOM scraping is used only when the page carries no JSON-LD
// at all; if blocks exist but none describes a Product, parsing fails with
// tracker.ErrExtraction.
//
// A record without price text is a valid result.
func ParseOffer(pageURL string, html []byte) (tracker.OfferRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return tracker.OfferRecord{}, fmt.Errorf("%w: parse listing page: %w", tracker.ErrExtraction, err)
	}

	scripts := doc.Find(StructuredDataSelector)
	var record tracker.OfferRecord
	if scripts.Length() == 0 {
		record = fromMarkup(doc)
	} else {
		product, ok := firstProduct(scripts)
		if !ok {
			return tracker.OfferRecord{}, fmt.Errorf("%w: no Product in %d structured data blocks",
				tracker.ErrExtraction, scripts.Length())
		}
		record = fromProduct(product)
	}
	record.URL = pageURL
	record.HTML = html
	return record, nil
}

func firstProduct(scripts *goquery.Selection) (node, bool) {
	var found node
	scripts.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s.Text())))
		dec.UseNumber()
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return true
		}
		if p, ok := findProduct(payload); ok {
			found = p
			return false
		}
		return true
	})
	return found, found != nil
}

func findProduct(payload any) (node, bool) {
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := item.(node); ok && isProduct(obj) {
				return obj, true
			}
		}
	case node:
		if isProduct(v) {
			return v, true
		}
		if graph, ok := v["@graph"].([]any); ok {
			return findProduct(graph)
		}
	}
	return nil, false
}

func isProduct(obj node) bool {
	switch t := obj["@type"].(type) {
	case string:
		return typeIsProduct(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && typeIsProduct(s) {
				return true
			}
		}
	}
	return false
}

func typeIsProduct(t string) bool {
	return t == "Product" || strings.HasSuffix(t, "/Product") || strings.HasSuffix(t, ":Product")
}

func fromProduct(p node) tracker.OfferRecord {
	record := tracker.OfferRecord{
		Source:      tracker.OfferSourceStructured,
		SKU:         scalar(p["sku"]),
		Name:        scalar(p["name"]),
		Description: scalar(p["description"]),
		Image:       image(p["image"]),
	}

	offer := first(p["offers"])
	record.PriceText = scalar(offer["price"])
	if record.PriceText == "" {
		record.PriceText = scalar(offer["lowPrice"])
	}
	record.Currency = scalar(offer["priceCurrency"])

	agg, _ := p["aggregateRating"].(node)
	record.Rating = parseFloat(coalesce(scalar(agg["ratingValue"]), scalar(p["ratingValue"])))
	record.ReviewCount = parseInt(coalesce(
		scalar(agg["reviewCount"]),
		scalar(agg["ratingCount"]),
		scalar(p["reviewCount"]),
	))
	return record
}

func fromMarkup(doc *goquery.Document) tracker.OfferRecord {
	record := tracker.OfferRecord{Source: tracker.OfferSourceMarkup}

	priceSel := doc.Find("[itemprop=price]").First()
	record.PriceText = coalesce(
		attr(priceSel, "content"),
		strings.TrimSpace(priceSel.Text()),
		attr(doc.Find(`meta[property="product:price:amount"]`).First(), "content"),
	)
	record.Currency = coalesce(
		attr(doc.Find("[itemprop=priceCurrency]").First(), "content"),
		attr(doc.Find(`meta[property="product:price:currency"]`).First(), "content"),
	)
	record.Name = coalesce(
		strings.TrimSpace(doc.Find("h1").First().Text()),
		attr(doc.Find(`meta[property="og:title"]`).First(), "content"),
	)
	record.Image = attr(doc.Find(`meta[property="og:image"]`).First(), "content")
	record.Description = attr(doc.Find(`meta[name="description"]`).First(), "content")

	skuSel := doc.Find("[itemprop=sku]").First()
	record.SKU = coalesce(attr(skuSel, "content"), strings.TrimSpace(skuSel.Text()))
	return record
}

func first(v any) node {
	switch t := v.(type) {
	case node:
		return t
	case []any:
		if len(t) > 0 {
			if obj, ok := t[0].(node); ok {
				return obj
			}
		}
	}
	return nil
}

func image(v any) string {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return ""
		}
		return image(t[0])
	case node:
		return coalesce(scalar(t["url"]), scalar(t["contentUrl"]))
	default:
		return scalar(v)
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}
