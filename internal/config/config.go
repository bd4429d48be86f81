// Package config holds the YAML configuration file format and its
// command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/die-net/wsconduit/internal/dialer"
	"github.com/die-net/wsconduit/internal/logging"
)

type ServerConfig struct {
	// Listen is the HTTP(S) address accepting WebSocket tunnels. Empty
	// disables the server.
	Listen string `yaml:"listen,omitempty"`
	Path   string `yaml:"path,omitempty"`

	TLSCert      string   `yaml:"tls_cert,omitempty"`
	TLSKey       string   `yaml:"tls_key,omitempty"`
	ACMEHosts    []string `yaml:"acme_hosts,omitempty"`
	ACMECacheDir string   `yaml:"acme_cache_dir,omitempty"`

	MaxSessions        int            `yaml:"max_sessions,omitempty"`
	NegotiationTimeout DurationString `yaml:"negotiation_timeout,omitempty"`
	PingInterval       DurationString `yaml:"ping_interval,omitempty"`
	ReadLimit          SizeString     `yaml:"read_limit,omitempty"`
}

type ForwardConfig struct {
	// Listen is a local TCP address whose connections are carried over a
	// fresh WebSocket to URL. Empty disables the forwarder.
	Listen             string         `yaml:"listen,omitempty"`
	URL                string         `yaml:"url,omitempty"`
	InsecureSkipVerify bool           `yaml:"insecure_skip_verify,omitempty"`
	HandshakeTimeout   DurationString `yaml:"handshake_timeout,omitempty"`
}

type DialConfig struct {
	Upstream            string         `yaml:"upstream,omitempty"`
	Timeout             DurationString `yaml:"timeout,omitempty"`
	DNSServer           string         `yaml:"dns_server,omitempty"`
	IPStrategy          string         `yaml:"ip_strategy,omitempty"`
	Interface           string         `yaml:"interface,omitempty"`
	AllowedOutAddresses []string       `yaml:"allowed_out_addresses,omitempty"`
}

type RelayConfig struct {
	BufferSize       SizeString     `yaml:"buffer_size,omitempty"`
	HalfCloseTimeout DurationString `yaml:"half_close_timeout,omitempty"`
	// BandwidthLimit caps all relays together, in bytes per second.
	BandwidthLimit SizeString `yaml:"bandwidth_limit,omitempty"`
}

type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	Format     string `yaml:"format,omitempty"`
	Filename   string `yaml:"filename,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"` // megabytes
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"` // days
	Compress   bool   `yaml:"compress,omitempty"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Forward ForwardConfig `yaml:"forward"`
	Dial    DialConfig    `yaml:"dial"`
	Relay   RelayConfig   `yaml:"relay"`
	Log     LogConfig     `yaml:"log"`

	TCPKeepAlive    string         `yaml:"tcp_keepalive,omitempty"`
	DebugListen     string         `yaml:"debug_listen,omitempty"`
	MonitorInterval DurationString `yaml:"monitor_interval,omitempty"`
	Verbose         bool           `yaml:"verbose,omitempty"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills in zero-valued optional fields. Call it before BindFlags,
// so a zero given explicitly on the command line is kept.
func (c *Config) SetDefaults() {
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Server.NegotiationTimeout == 0 {
		c.Server.NegotiationTimeout = DurationString(10 * time.Second)
	}
	if c.Server.ACMECacheDir == "" {
		c.Server.ACMECacheDir = "acme-cache"
	}
	if c.Forward.HandshakeTimeout == 0 {
		c.Forward.HandshakeTimeout = DurationString(10 * time.Second)
	}
	if c.Dial.Upstream == "" {
		c.Dial.Upstream = defaultUpstream()
	}
	if c.Dial.Timeout == 0 {
		c.Dial.Timeout = DurationString(10 * time.Second)
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = 32 << 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 20
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 28
	}
	if c.TCPKeepAlive == "" {
		c.TCPKeepAlive = "45:45:3"
	}
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	if c.Server.Listen == "" && c.Forward.Listen == "" {
		return errors.New("no listeners enabled (set at least one of --listen, --forward-listen)")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("invalid path %q: must start with /", c.Server.Path)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("--tls-cert and --tls-key must be set together")
	}
	if len(c.Server.ACMEHosts) > 0 && c.Server.TLSCert != "" {
		return errors.New("--acme-host cannot be combined with --tls-cert")
	}
	if c.Server.MaxSessions < 0 {
		return errors.New("--max-sessions must be >= 0")
	}
	if c.Forward.Listen != "" && c.Forward.URL == "" {
		return errors.New("--forward-listen requires --forward-url")
	}
	if c.Relay.BufferSize < 512 {
		return fmt.Errorf("--buffer-size %d is too small (minimum 512 bytes)", c.Relay.BufferSize)
	}
	if c.Relay.BandwidthLimit < 0 {
		return errors.New("--bandwidth-limit must be >= 0")
	}
	if _, err := dialer.ParseIPStrategy(c.Dial.IPStrategy); err != nil {
		return err
	}
	if _, err := dialer.NewRuleset(c.Dial.AllowedOutAddresses); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.KeepAlive(); err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	return nil
}

// KeepAlive parses TCPKeepAlive.
func (c *Config) KeepAlive() (net.KeepAliveConfig, error) {
	return ParseTCPKeepAlive(c.TCPKeepAlive)
}

func (c *Config) DialerConfig() (dialer.Config, error) {
	ka, err := c.KeepAlive()
	if err != nil {
		return dialer.Config{}, err
	}
	return dialer.Config{
		DialTimeout:         c.Dial.Timeout.Duration(),
		KeepAlive:           ka,
		Interface:           c.Dial.Interface,
		DNSServer:           c.Dial.DNSServer,
		IPStrategy:          c.Dial.IPStrategy,
		AllowedOutAddresses: c.Dial.AllowedOutAddresses,
	}, nil
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Filename:   c.Log.Filename,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}

// Decode reads YAML from r over c. Fields absent from the document keep
// their current values; unknown fields are an error.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFile decodes the YAML file at path over c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := c.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// BindFlags registers command-line flags that write into c, using c's
// current values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Listen, "listen", c.Server.Listen, "WebSocket tunnel server listen address (e.g. 0.0.0.0:8080). Empty disables.")
	fs.StringVar(&c.Server.Path, "path", c.Server.Path, "HTTP path accepting WebSocket upgrades")
	fs.StringVar(&c.Server.TLSCert, "tls-cert", c.Server.TLSCert, "TLS certificate file for wss://")
	fs.StringVar(&c.Server.TLSKey, "tls-key", c.Server.TLSKey, "TLS private key file for wss://")
	fs.StringSliceVar(&c.Server.ACMEHosts, "acme-host", c.Server.ACMEHosts, "Host name to obtain a certificate for via ACME (repeatable)")
	fs.StringVar(&c.Server.ACMECacheDir, "acme-cache-dir", c.Server.ACMECacheDir, "Directory caching ACME certificates")
	fs.IntVar(&c.Server.MaxSessions, "max-sessions", c.Server.MaxSessions, "Maximum concurrent tunnel sessions (0 = unlimited)")
	fs.DurationVar((*time.Duration)(&c.Server.NegotiationTimeout), "negotiation-timeout", c.Server.NegotiationTimeout.Duration(), "Timeout for the SOCKS5 handshake inside a tunnel (0 disables)")
	fs.DurationVar((*time.Duration)(&c.Server.PingInterval), "ping-interval", c.Server.PingInterval.Duration(), "Interval between WebSocket pings (0 disables)")
	fs.Var(&c.Server.ReadLimit, "read-limit", "Maximum size of one incoming WebSocket message (0 = unlimited)")

	fs.StringVar(&c.Forward.Listen, "forward-listen", c.Forward.Listen, "Local TCP listen address whose connections are tunneled to --forward-url (e.g. 127.0.0.1:1080). Empty disables.")
	fs.StringVar(&c.Forward.URL, "forward-url", c.Forward.URL, "Tunnel server URL for the forwarder (ws:// or wss://)")
	fs.BoolVar(&c.Forward.InsecureSkipVerify, "forward-insecure", c.Forward.InsecureSkipVerify, "Skip TLS certificate verification for --forward-url")
	fs.DurationVar((*time.Duration)(&c.Forward.HandshakeTimeout), "forward-handshake-timeout", c.Forward.HandshakeTimeout.Duration(), "Timeout for the forwarder's WebSocket handshake")

	fs.StringVar(&c.Dial.Upstream, "upstream", c.Dial.Upstream, "Outbound target URL: direct:// | socks5://[user:pass@]host:port")
	fs.DurationVar((*time.Duration)(&c.Dial.Timeout), "dial-timeout", c.Dial.Timeout.Duration(), "Timeout for outbound DNS lookup and TCP connect")
	fs.StringVar(&c.Dial.DNSServer, "dns-server", c.Dial.DNSServer, "DNS server for outbound lookups (host[:port]). Empty uses the system resolver.")
	fs.StringVar(&c.Dial.IPStrategy, "ip-strategy", c.Dial.IPStrategy, "Address families to dial: \"\" (as resolved), 4, 6, 46 or 64")
	fs.StringVar(&c.Dial.Interface, "interface", c.Dial.Interface, "Network interface for outbound connections (Linux only)")
	fs.StringSliceVar(&c.Dial.AllowedOutAddresses, "allow-out", c.Dial.AllowedOutAddresses, "Allowed destination host, IP, CIDR or .suffix (repeatable; empty allows all)")

	fs.Var(&c.Relay.BufferSize, "buffer-size", "Relay buffer size per direction (e.g. 32KB)")
	fs.DurationVar((*time.Duration)(&c.Relay.HalfCloseTimeout), "half-close-timeout", c.Relay.HalfCloseTimeout.Duration(), "How long one direction may continue after the other finished (0 = unlimited)")
	fs.Var(&c.Relay.BandwidthLimit, "bandwidth-limit", "Total relay bandwidth (e.g. 100M for 100 Mbit/s, 10MB for 10 MiB/s; 0 = unlimited)")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level: debug|info|warn|error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: console|json")
	fs.StringVar(&c.Log.Filename, "log-file", c.Log.Filename, "Write logs to this file with rotation instead of stderr")

	fs.StringVar(&c.TCPKeepAlive, "tcp-keepalive", c.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&c.DebugListen, "debug-listen", c.DebugListen, "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.DurationVar((*time.Duration)(&c.MonitorInterval), "monitor-interval", c.MonitorInterval.Duration(), "Interval between status summaries in the log (0 disables)")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "Enable per-session error logging")
}

// PathFromArgs returns the value of --config in args, ignoring every other
// flag and any parse error.
func PathFromArgs(args []string) string {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	var scratch Config
	scratch.BindFlags(fs)
	path := fs.String("config", "", "")

	_ = fs.Parse(args)
	return *path
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
