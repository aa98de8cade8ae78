// Package collyfetcher implements a lightweight marketplace session on plain
// HTTP using gocolly. It needs no browser, so it only works against pages
// that render search results and structured data server side.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/fetcher"
	"github.com/JakeFAU/pricespy/internal/listing"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Config controls collector behavior.
type Config struct {
	// SearchURL is a fmt template with one %s for the escaped query.
	SearchURL      string
	ListingMarker  string
	UserAgents     []string
	AcceptLanguage string
	RespectRobots  bool
	Proxy          string
	Timeout        time.Duration
	ActionDelay    fetcher.Range
}

// Pacer delays requests to a host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Browser implements tracker.Browser with one fresh collector per session.
type Browser struct {
	cfg       Config
	transport http.RoundTripper
	pacer     Pacer
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Browser.
func New(cfg Config, pacer Pacer, logger *zap.Logger) (*Browser, error) {
	if strings.Count(cfg.SearchURL, "%s") != 1 {
		return nil, fmt.Errorf("search url %q must contain exactly one %%s", cfg.SearchURL)
	}
	if cfg.ListingMarker == "" {
		cfg.ListingMarker = "/product/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newHTTPTransport()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", cfg.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &Browser{
		cfg:       cfg,
		transport: transport,
		pacer:     pacer,
		logger:    logger.Named("colly"),
	}, nil
}

// Open returns a session with its own cookie jar and user agent.
func (b *Browser) Open(context.Context) (tracker.Session, error) {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(b.transport)
	c.UserAgent = fetcher.PickUserAgent(b.cfg.UserAgents)
	c.IgnoreRobotsTxt = !b.cfg.RespectRobots
	c.SetRequestTimeout(b.cfg.Timeout)
	return &session{browser: b, collector: c}, nil
}

type session struct {
	browser   *Browser
	collector *colly.Collector
}

type page struct {
	url  *url.URL
	body []byte
}

// Locate fetches the search results page for query.
func (s *session) Locate(ctx context.Context, query string, maxResults int) ([]string, error) {
	target := fmt.Sprintf(s.browser.cfg.SearchURL, url.QueryEscape(query))
	p, err := s.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	links, err := listing.ParseListingLinks(p.body, p.url, s.browser.cfg.ListingMarker, maxResults)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		if listing.NeedsRendering(p.body) {
			s.browser.logger.Warn("search page looks client-rendered; the chromedp engine may be required",
				zap.String("url", target))
		}
		return nil, fmt.Errorf("%w: no %s links for %q", tracker.ErrNoListingFound, s.browser.cfg.ListingMarker, query)
	}
	return links, nil
}

// Extract fetches and parses a listing page.
func (s *session) Extract(ctx context.Context, listingURL string) (tracker.OfferRecord, error) {
	p, err := s.get(ctx, listingURL)
	if err != nil {
		return tracker.OfferRecord{}, fmt.Errorf("load listing %s: %w", listingURL, err)
	}
	offer, err := listing.ParseOffer(listingURL, p.body)
	if err != nil && listing.NeedsRendering(p.body) {
		s.browser.logger.Warn("listing looks client-rendered; the chromedp engine may be required",
			zap.String("url", listingURL))
	}
	return offer, err
}

// Close is a no-op; collectors hold no resources beyond the shared transport.
func (s *session) Close() error {
	return nil
}

func (s *session) get(ctx context.Context, target string) (page, error) {
	if s.browser.pacer != nil {
		if err := s.browser.pacer.Wait(ctx, target); err != nil {
			return page{}, err
		}
	}
	if err := fetcher.Sleep(ctx, s.browser.cfg.ActionDelay); err != nil {
		return page{}, err
	}

	var (
		result   page
		fetchErr error
	)
	collector := s.collector.Clone()
	s.configureCollectorHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return page{}, err
	}
	s.browser.logger.Debug("page fetched", zap.String("url", target), zap.Int("bytes", len(result.body)))
	return result, nil
}

func (s *session) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if s.browser.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", s.browser.cfg.AcceptLanguage)
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*result = page{url: r.Request.URL, body: append([]byte(nil), r.Body...)}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
