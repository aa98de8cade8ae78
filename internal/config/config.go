// Package config loads and validates pricespy configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pricespy/internal/fetcher"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Competitor  CompetitorConfig  `mapstructure:"competitor"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Store       StoreConfig       `mapstructure:"store"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Events      EventsConfig      `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CompetitorConfig names the competitor row observations are filed under.
type CompetitorConfig struct {
	Name string `mapstructure:"name"`
}

// MarketplaceConfig describes the competitor site's search surface.
type MarketplaceConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SearchURL     string `mapstructure:"search_url"`
	ListingMarker string `mapstructure:"listing_marker"`
	SearchInput   string `mapstructure:"search_input"`
	MaxResults    int    `mapstructure:"max_results"`
}

// BrowserConfig configures the page engines.
type BrowserConfig struct {
	Engine                string        `mapstructure:"engine"`
	Headless              bool          `mapstructure:"headless"`
	MaxSessions           int           `mapstructure:"max_sessions"`
	PageLoadTimeout       time.Duration `mapstructure:"page_load_timeout"`
	StructuredDataTimeout time.Duration `mapstructure:"structured_data_timeout"`
	Proxy                 string        `mapstructure:"proxy"`
	UserAgents            []string      `mapstructure:"user_agents"`
	AcceptLanguage        string        `mapstructure:"accept_language"`
	TypingDelayMin        time.Duration `mapstructure:"typing_delay_min"`
	TypingDelayMax        time.Duration `mapstructure:"typing_delay_max"`
	ActionDelayMin        time.Duration `mapstructure:"action_delay_min"`
	ActionDelayMax        time.Duration `mapstructure:"action_delay_max"`
	SettleDelayMin        time.Duration `mapstructure:"settle_delay_min"`
	SettleDelayMax        time.Duration `mapstructure:"settle_delay_max"`
	ScrollSteps           int           `mapstructure:"scroll_steps"`
	RequestsPerSecond     float64       `mapstructure:"requests_per_second"`
	RespectRobots         bool          `mapstructure:"respect_robots"`
}

// TypingDelay is the per-keystroke delay range.
func (b BrowserConfig) TypingDelay() fetcher.Range {
	return fetcher.Range{Min: b.TypingDelayMin, Max: b.TypingDelayMax}
}

// ActionDelay is the pause range between page actions.
func (b BrowserConfig) ActionDelay() fetcher.Range {
	return fetcher.Range{Min: b.ActionDelayMin, Max: b.ActionDelayMax}
}

// SettleDelay is the pause range after a page finishes loading.
func (b BrowserConfig) SettleDelay() fetcher.Range {
	return fetcher.Range{Min: b.SettleDelayMin, Max: b.SettleDelayMax}
}

// StoreConfig selects and configures the price store.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// QueueConfig selects and configures the task queue.
type QueueConfig struct {
	Provider string            `mapstructure:"provider"`
	Redis    RedisQueueConfig  `mapstructure:"redis"`
	PubSub   PubSubQueueConfig `mapstructure:"pubsub"`
	Memory   MemoryQueueConfig `mapstructure:"memory"`
}

// PubSubQueueConfig names the topic and subscription carrying tasks.
type PubSubQueueConfig struct {
	ProjectID    string        `mapstructure:"project_id"`
	Topic        string        `mapstructure:"topic"`
	Subscription string        `mapstructure:"subscription"`
	PollWait     time.Duration `mapstructure:"poll_wait"`
}

// RedisQueueConfig points at the Redis list holding tasks.
type RedisQueueConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MemoryQueueConfig sizes the in-process queue.
type MemoryQueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// WorkerConfig controls the task loop.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// AcquisitionConfig controls how observations are dated.
type AcquisitionConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SnapshotConfig selects where listing HTML is archived.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects where observation events are published.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DefaultFileName is the config file looked up when --config is not given.
const DefaultFileName = "pricespy.yaml"

// ResolvePath returns explicit when set, otherwise the first DefaultFileName
// found in the working directory, $HOME/.pricespy or /etc/pricespy. An empty
// result means defaults and environment only.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".pricespy"))
	}
	dirs = append(dirs, "/etc/pricespy")
	return findConfig(dirs)
}

func findConfig(dirs []string) string {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, DefaultFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICESPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("competitor.name", "Ozon")
	v.SetDefault("marketplace.base_url", "https://www.ozon.ru/")
	v.SetDefault("marketplace.search_url", "https://www.ozon.ru/search/?text=%s")
	v.SetDefault("marketplace.listing_marker", "/product/")
	v.SetDefault("marketplace.search_input", "input[name='text']")
	v.SetDefault("marketplace.max_results", 3)
	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_sessions", 1)
	v.SetDefault("browser.page_load_timeout", 30*time.Second)
	v.SetDefault("browser.structured_data_timeout", 10*time.Second)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.user_agents", fetcher.DefaultUserAgents)
	v.SetDefault("browser.accept_language", "ru-RU,ru;q=0.9,en;q=0.8")
	v.SetDefault("browser.typing_delay_min", 100*time.Millisecond)
	v.SetDefault("browser.typing_delay_max", 250*time.Millisecond)
	v.SetDefault("browser.action_delay_min", 300*time.Millisecond)
	v.SetDefault("browser.action_delay_max", 1200*time.Millisecond)
	v.SetDefault("browser.settle_delay_min", 2*time.Second)
	v.SetDefault("browser.settle_delay_max", 4*time.Second)
	v.SetDefault("browser.scroll_steps", 4)
	v.SetDefault("browser.requests_per_second", 0.5)
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("store.provider", "sqlite")
	v.SetDefault("store.sqlite.path", "pricespy.db")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("queue.provider", "redis")
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key", "price_tasks")
	v.SetDefault("queue.pubsub.topic", "price-tasks")
	v.SetDefault("queue.pubsub.subscription", "price-worker")
	v.SetDefault("queue.pubsub.poll_wait", 2*time.Second)
	v.SetDefault("queue.memory.capacity", 256)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.task_timeout", 3*time.Minute)
	v.SetDefault("worker.max_attempts", 1)
	v.SetDefault("acquisition.timezone", "UTC")
	v.SetDefault("snapshot.provider", "none")
	v.SetDefault("snapshot.dir", "data/snapshots")
	v.SetDefault("snapshot.prefix", "listings")
	v.SetDefault("events.provider", "none")
	v.SetDefault("events.topic", "price-observations")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Competitor.Name) == "" {
		return fmt.Errorf("competitor.name is required")
	}
	if c.Marketplace.MaxResults < 1 {
		return fmt.Errorf("marketplace.max_results must be >= 1")
	}
	if err := c.validateBrowser(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return c.validateOutputs()
}

// Location resolves acquisition.timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Acquisition.Timezone)
	if err != nil {
		return nil, fmt.Errorf("acquisition.timezone: %w", err)
	}
	return loc, nil
}

func (c Config) validateBrowser() error {
	b := c.Browser
	switch b.Engine {
	case "chromedp":
		if c.Marketplace.BaseURL == "" {
			return fmt.Errorf("marketplace.base_url is required for the chromedp engine")
		}
	case "colly":
		if strings.Count(c.Marketplace.SearchURL, "%s") != 1 {
			return fmt.Errorf("marketplace.search_url must contain exactly one %%s for the colly engine")
		}
	default:
		return fmt.Errorf("browser.engine must be chromedp or colly, got %q", b.Engine)
	}
	if b.MaxSessions < 0 {
		return fmt.Errorf("browser.max_sessions must be >= 0")
	}
	if b.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be > 0")
	}
	if b.RequestsPerSecond < 0 {
		return fmt.Errorf("browser.requests_per_second must be >= 0")
	}
	for name, r := range map[string]fetcher.Range{
		"typing_delay": b.TypingDelay(),
		"action_delay": b.ActionDelay(),
		"settle_delay": b.SettleDelay(),
	} {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("browser.%s: %w", name, err)
		}
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Provider {
	case "memory":
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("store.provider must be sqlite, postgres or memory, got %q", c.Store.Provider)
	}
	return nil
}

func (c Config) validateQueue() error {
	switch c.Queue.Provider {
	case "redis":
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("queue.redis.addr is required")
		}
	case "memory":
		if c.Queue.Memory.Capacity <= 0 {
			return fmt.Errorf("queue.memory.capacity must be > 0")
		}
	case "pubsub":
		q := c.Queue.PubSub
		if q.ProjectID == "" || q.Topic == "" || q.Subscription == "" {
			return fmt.Errorf("queue.pubsub.project_id, topic and subscription are required")
		}
	default:
		return fmt.Errorf("queue.provider must be redis, pubsub or memory, got %q", c.Queue.Provider)
	}
	return nil
}

func (c Config) validateOutputs() error {
	switch c.Snapshot.Provider {
	case "none":
	case "local":
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot.dir is required for local snapshots")
		}
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for gcs snapshots")
		}
	default:
		return fmt.Errorf("snapshot.provider must be none, local or gcs, got %q", c.Snapshot.Provider)
	}
	switch c.Events.Provider {
	case "none":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("events.provider must be none or pubsub, got %q", c.Events.Provider)
	}
	return nil
}
