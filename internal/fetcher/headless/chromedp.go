// Package headless drives a real Chrome through chromedp to search the
// marketplace and read listing pages the way a shopper would.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/fetcher"
	"github.com/JakeFAU/pricespy/internal/listing"
	"github.com/JakeFAU/pricespy/internal/metrics"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Config controls the headless browser engine.
type Config struct {
	BaseURL        string
	SearchInput    string
	ListingMarker  string
	UserAgents     []string
	AcceptLanguage string
	Headless       bool
	Proxy          string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// MaxSessions bounds concurrently open sessions. Zero means unbounded.
	MaxSessions           int
	PageLoadTimeout       time.Duration
	StructuredDataTimeout time.Duration
	TypingDelay           fetcher.Range
	ActionDelay           fetcher.Range
	SettleDelay           fetcher.Range
	ScrollSteps           int
}

// Pacer delays requests to a host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Browser implements tracker.Browser using chromedp and Chrome.
type Browser struct {
	cfg         Config
	base        *url.URL
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	pacer       Pacer
	logger      *zap.Logger
}

// New creates the Chrome allocator. Chrome itself is started per session.
func New(cfg Config, pacer Pacer, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions must be >= 0")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid marketplace base url %q", cfg.BaseURL)
	}
	if cfg.SearchInput == "" {
		cfg.SearchInput = "input[name='text']"
	}
	if cfg.ListingMarker == "" {
		cfg.ListingMarker = "/product/"
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 30 * time.Second
	}
	if cfg.StructuredDataTimeout <= 0 {
		cfg.StructuredDataTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxSessions > 0 {
		limiter = make(chan struct{}, cfg.MaxSessions)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Browser{
		cfg:         cfg,
		base:        base,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		pacer:       pacer,
		logger:      logger.Named("headless"),
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// Open starts an isolated Chrome instance with a random user agent.
func (b *Browser) Open(ctx context.Context) (tracker.Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	fail := func(err error) (tracker.Session, error) {
		tabCancel()
		b.release()
		return nil, err
	}
	// The first Run allocates Chrome and ties its lifetime to the context it
	// is given, so it must not be a derived timeout context. The caller's ctx
	// still aborts a start that hangs.
	stopWatch := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stopWatch()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(fmt.Errorf("start browser: %w", ctxErr))
		}
		return fail(fmt.Errorf("start browser: %w", err))
	}

	userAgent := fetcher.PickUserAgent(b.cfg.UserAgents)
	setupCtx, stop := b.bind(ctx, tabCtx, b.cfg.PageLoadTimeout)
	defer stop()
	if err := chromedp.Run(setupCtx, b.networkSetupAction(userAgent)); err != nil {
		return fail(fmt.Errorf("configure browser session: %w", err))
	}

	metrics.IncActiveSessions()
	b.logger.Debug("browser session opened", zap.String("user_agent", userAgent))
	return &session{browser: b, ctx: tabCtx, cancel: tabCancel}, nil
}

func (b *Browser) networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if b.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": b.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// bind derives a context from the chromedp tab that also ends when the
// caller's ctx ends or timeout elapses.
func (b *Browser) bind(caller, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(caller, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type session struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Locate types query into the marketplace search box like a person would,
// scrolls the results to load lazy cards, and collects listing links.
func (s *session) Locate(ctx context.Context, query string, maxResults int) ([]string, error) {
	cfg := s.browser.cfg
	if err := s.pace(ctx, cfg.BaseURL); err != nil {
		return nil, err
	}
	budget := cfg.PageLoadTimeout*2 + s.humanBudget(len([]rune(query)))
	opCtx, stop := s.browser.bind(ctx, s.ctx, budget)
	defer stop()

	var (
		html    string
		current string
	)
	err := chromedp.Run(opCtx,
		s.navigate(cfg.BaseURL),
		s.pause(cfg.SettleDelay),
		chromedp.WaitVisible(cfg.SearchInput, chromedp.ByQuery),
		chromedp.Click(cfg.SearchInput, chromedp.ByQuery),
		s.typeText(cfg.SearchInput, query),
		s.pause(cfg.ActionDelay),
		chromedp.Submit(cfg.SearchInput, chromedp.ByQuery),
		s.pause(cfg.SettleDelay),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.scroll(cfg.ScrollSteps, 0.75),
		chromedp.Location(&current),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	base := s.browser.base
	if u, perr := url.Parse(current); perr == nil && u.Host != "" {
		base = u
	}
	links, err := listing.ParseListingLinks([]byte(html), base, cfg.ListingMarker, maxResults)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no %s links for %q", tracker.ErrNoListingFound, cfg.ListingMarker, query)
	}
	return links, nil
}

// Extract opens a listing, waits a bounded time for structured data, and
// parses whatever the page offers.
func (s *session) Extract(ctx context.Context, listingURL string) (tracker.OfferRecord, error) {
	cfg := s.browser.cfg
	if err := s.pace(ctx, listingURL); err != nil {
		return tracker.OfferRecord{}, err
	}
	budget := cfg.PageLoadTimeout + cfg.StructuredDataTimeout + s.humanBudget(0)
	opCtx, stop := s.browser.bind(ctx, s.ctx, budget)
	defer stop()

	var html string
	err := chromedp.Run(opCtx,
		s.navigate(listingURL),
		s.waitStructuredData(),
		s.pause(cfg.ActionDelay),
		s.scroll(2, 0.5),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return tracker.OfferRecord{}, fmt.Errorf("load listing %s: %w", listingURL, err)
	}
	return listing.ParseOffer(listingURL, []byte(html))
}

// Close shuts the session's Chrome instance down and frees its slot.
func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.browser.release()
		metrics.DecActiveSessions()
	})
	return nil
}

func (s *session) pace(ctx context.Context, rawURL string) error {
	if s.browser.pacer == nil {
		return nil
	}
	return s.browser.pacer.Wait(ctx, rawURL)
}

func (s *session) navigate(target string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		navCtx, cancel := context.WithTimeout(ctx, s.browser.cfg.PageLoadTimeout)
		defer cancel()
		return chromedp.Navigate(target).Do(navCtx)
	})
}

// waitStructuredData gives the page a bounded chance to render its JSON-LD.
// Pages without it fall through to markup parsing.
func (s *session) waitStructuredData() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, s.browser.cfg.StructuredDataTimeout)
		defer cancel()
		err := chromedp.WaitReady(listing.StructuredDataSelector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			s.browser.logger.Debug("no structured data before timeout")
			return nil
		}
		return err
	})
}

func (s *session) typeText(sel, text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range text {
			if err := chromedp.SendKeys(sel, string(r), chromedp.ByQuery).Do(ctx); err != nil {
				return fmt.Errorf("type into %s: %w", sel, err)
			}
			if err := fetcher.Sleep(ctx, s.browser.cfg.TypingDelay); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) scroll(steps int, viewportFraction float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script := fmt.Sprintf("window.scrollBy(0, window.innerHeight * %.2f)", viewportFraction)
		for i := 0; i < steps; i++ {
			if err := chromedp.Evaluate(script, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll: %w", err)
			}
			if err := fetcher.Sleep(ctx, s.browser.cfg.ActionDelay); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *session) pause(r fetcher.Range) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return fetcher.Sleep(ctx, r)
	})
}

// humanBudget is the worst case time spent in pacing delays for one
// operation typing chars characters.
func (s *session) humanBudget(chars int) time.Duration {
	cfg := s.browser.cfg
	steps := max(cfg.ScrollSteps, 2)
	return 2*cfg.SettleDelay.Max +
		time.Duration(chars)*cfg.TypingDelay.Max +
		time.Duration(steps+1)*cfg.ActionDelay.Max
}
