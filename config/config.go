package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/time/rate"
)

// Provider holds the application configuration and allows for atomic updates.
type Provider struct {
	value atomic.Value // Holds the current *Config
}

// NewProvider creates a new configuration provider with the initial config.
// It panics if the initialConfig is nil.
func NewProvider(c *Config) *Provider {
	if c == nil {
		panic("initial config cannot be nil")
	}
	p := &Provider{}
	p.value.Store(c)
	return p
}

// Get returns the current configuration snapshot. It's safe for concurrent use.
func (p *Provider) Get() *Config {
	return p.value.Load().(*Config)
}

// Update atomically swaps the current configuration with the new one.
// The caller is responsible for ensuring newConfig is not nil.
func (p *Provider) Update(newConfig *Config) {
	p.value.Store(newConfig)
}

// Duration wraps time.Duration so it can round-trip through TOML as a
// human-readable string ("30s", "2h") instead of an integer nanosecond count.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// LogLevel wraps slog.Level for TOML round-tripping as "DEBUG"/"INFO"/"WARN"/"ERROR".
type LogLevel struct {
	Level slog.Level
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.Level.String()), nil
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(string(text)))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", text, err)
	}
	l.Level = level
	return nil
}

// Regexp wraps *regexp.Regexp for TOML round-tripping as a plain pattern string.
type Regexp struct {
	*regexp.Regexp
}

func (r Regexp) MarshalText() ([]byte, error) {
	if r.Regexp == nil {
		return []byte(""), nil
	}
	return []byte(r.Regexp.String()), nil
}

func (r *Regexp) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		r.Regexp = nil
		return nil
	}
	compiled, err := regexp.Compile(string(text))
	if err != nil {
		return fmt.Errorf("invalid regexp %q: %w", text, err)
	}
	r.Regexp = compiled
	return nil
}

// Scheduler controls the background renewal sweep (the coordinator's own
// periodic check for certificates nearing expiry).
type Scheduler struct {
	// Interval controls how often the sweep checks the Inventory for
	// certificates nearing expiry. Typical values range from several
	// minutes to a few hours.
	Interval time.Duration

	// ExpiringWithinDays is the db.SearchQuery window passed on every tick:
	// any Certificate Record whose not_after falls within this many days
	// is queued for renewal.
	ExpiringWithinDays int

	// MaxRenewalsPerTick caps how many records a single tick will act on,
	// so one slow ACME CA doesn't starve the next tick's sweep.
	MaxRenewalsPerTick int

	// ConcurrencyMultiplier determines how many concurrent renewals are
	// run per CPU core. Renewals are I/O-bound (ACME CLI subprocess, LB
	// API, secret store), so values of 2-8 are reasonable.
	ConcurrencyMultiplier int

	// BigipHost is the appliance used for the HTTP-01 preflight check of
	// sweep-initiated renewals (spec §4.3). Renewals triggered over the
	// REST API instead take BigipHost from the request body.
	BigipHost string

	// BigipPartition is the iControl REST partition used for sweep-initiated
	// renewals when the Certificate Record doesn't already pin one.
	BigipPartition string
}

// Server configures the HTTP listener.
type Server struct {
	// Addr is the HTTP server address to listen on (e.g. ":8080" or "app.example.com:8080")
	Addr string

	// RedirectAddr, when set, runs a second listener that 301s plain HTTP to Addr.
	RedirectAddr string

	// ShutdownGracefulTimeout is the maximum time to wait for graceful shutdown
	ShutdownGracefulTimeout time.Duration

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// ReadHeaderTimeout is the maximum duration for reading request headers
	ReadHeaderTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// ClientIpProxyHeader specifies which HTTP header to trust for client IP addresses
	// when behind a proxy (e.g. "X-Forwarded-For", "X-Real-IP"). Empty means use
	// the direct connection IP (r.RemoteAddr).
	ClientIpProxyHeader string

	// EnableTLS serves HTTPS directly using CertData/KeyData instead of
	// delegating TLS termination to an upstream load balancer.
	EnableTLS bool
	CertData  string
	KeyData   string
}

// BaseURL returns the full base URL including scheme and port.
// Uses https unless the host is localhost or TLS is disabled.
func (s *Server) BaseURL() string {
	host, port, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return s.Addr
	}
	if host == "" {
		host = "localhost"
	}

	scheme := "http"
	if s.EnableTLS && host != "localhost" {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s:%s", scheme, host, port)
}

// BlockIp configures the sliding-window TopK-sketch IP abuse blocker
// (core/prerouter/block_ip.go).
type BlockIp struct {
	// Enabled turns the blocker on at the connection/proxy layer.
	Enabled bool

	// Level selects a preset sketch sizing ("low", "medium", "high") that
	// trades memory for detection sensitivity, mirroring Cache.Level.
	Level string

	// ActivationRPS is the requests-per-second threshold a tick must reach
	// before the blocker starts evaluating shares at all.
	ActivationRPS int

	// MaxSharePercent is the maximum percentage of a window's capacity a
	// single IP may consume before being blocked.
	MaxSharePercent int
}

// BlockUaList blocks requests whose User-Agent matches a regular expression.
type BlockUaList struct {
	Activated bool
	List      Regexp
}

// BlockHost restricts which Host headers are served.
type BlockHost struct {
	Activated    bool
	AllowedHosts []string
}

// BlockRequestBody caps request body size on all but a configured allowlist
// of paths (e.g. the BIG-IP challenge-publish endpoint, which may carry a
// large datagroup payload).
type BlockRequestBody struct {
	Activated     bool
	ExcludedPaths []string
	Limit         int64
}

// Maintenance, when Activated, makes every prerouter-guarded request return
// 503 regardless of route.
type Maintenance struct {
	Activated bool
}

// Metrics gates the Prometheus /metrics endpoint (handler_metrics.go) and the
// request-counting middleware (prerouter/metrics.go) independently, since
// the handler is reachable only with an allowed source IP while the
// middleware just needs a global on/off switch.
type Metrics struct {
	Enabled    bool
	AllowedIPs []string
	Activated  bool
}

// LogRequestLimits bounds how much of each field request logging captures.
type LogRequestLimits struct {
	URILength       int
	UserAgentLength int
	RefererLength   int
	RemoteIPLength  int
}

// LogRequest configures per-request access logging.
type LogRequest struct {
	Activated bool
	Limits    LogRequestLimits
}

// BatchLogger configures the buffered sqlite-backed application log sink.
type BatchLogger struct {
	ChanSize      int
	FlushSize     int
	FlushInterval time.Duration
	DbPath        string
	Level         LogLevel
}

// Log groups the two logging subsystems.
type Log struct {
	Request LogRequest
	Batch   BatchLogger
}

// Discord configures the Discord webhook notifier.
type Discord struct {
	Activated    bool
	WebhookURL   string
	APIRateLimit rate.Limit
	APIBurst     int
	SendTimeout  time.Duration
}

// Notifier groups the outbound alerting channels.
type Notifier struct {
	Discord Discord
}

// Cache sizes the Ristretto in-memory cache via a named preset
// ("small", "medium", "large", "very-large"); see cache/ristretto.
type Cache struct {
	Level string
}

// Litestream configures continuous replication of the Inventory sqlite file
// (the Certificate Records + challenge/transition history, spec §3) to a
// local replica directory via the litestream library.
type Litestream struct {
	Activated   bool
	ReplicaPath string
	ReplicaName string
}

// Config is the full, atomically-swappable application configuration.
type Config struct {
	DBFile    string
	PublicDir string

	Server     Server
	Scheduler  Scheduler
	Cache      Cache
	Litestream Litestream

	BlockUaList      BlockUaList
	BlockHost        BlockHost
	BlockRequestBody BlockRequestBody
	BlockIp          BlockIp
	Maintenance      Maintenance
	Metrics          Metrics
	Log              Log
	Notifier         Notifier
}

// DBPath returns the Inventory sqlite file path Litestream should replicate.
// It is just DBFile under another name, kept distinct so backup/litestream.go
// reads as "the path Litestream watches" rather than reaching into the
// general DB wiring field.
func (c *Config) DBPath() string {
	return c.DBFile
}

const (
	DefaultReadTimeout       = 2 * time.Second
	DefaultReadHeaderTimeout = 2 * time.Second
	DefaultWriteTimeout      = 3 * time.Second
	DefaultIdleTimeout       = 1 * time.Minute
	DefaultShutdownTimeout   = 15 * time.Second
)

// FillServer returns a copy of cfg.Server with zero-valued fields replaced by
// package defaults. Used by Load so a partial TOML file doesn't have to
// repeat every timeout.
func FillServer(cfg *Config) Server {
	s := cfg.Server

	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ShutdownGracefulTimeout == 0 {
		s.ShutdownGracefulTimeout = DefaultShutdownTimeout
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.ReadHeaderTimeout == 0 {
		s.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}

	return s
}

// Load reads a TOML configuration file from path, applying it on top of
// NewDefaultConfig so an operator only has to set what differs from the
// defaults, then overrides DBFile with dbfile (the value the process was
// actually invoked with, which always wins over the file).
func Load(path, dbfile string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if dbfile != "" {
		cfg.DBFile = dbfile
	}
	cfg.Server = FillServer(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
