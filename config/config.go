package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const (
	configver = "1.0.0"

	defaultProbeRounds = 3
)

// Config type
type Config struct {
	Version          string
	Bind             string
	ProxyAddrs       []string
	GoodServers      []string
	GoodServersURL   string
	GoodServersCache string
	DomainSuffix     string
	ProbeDomain      string
	ProbeRounds      int
	ProbeTimeout     Duration
	Timeout          Duration
	SendTimeout      Duration
	PollInterval     Duration
	StepTimeout      Duration
	LogLevel         string
	AccessLog        string
	AccessList       []string
	ClientRateLimit  int
	API              string

	sVersion string
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText for duration type
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = "127.0.0.1:53"

# Addresses written as DNS servers of the managed interfaces.
# They must point back to the bind address.
proxyaddrs = [
"127.0.0.1"
]

# Trusted resolvers used when an untrusted answer looks tampered.
# Entries can be ip, ip:port, [ipv6]:port or a hostname.
goodservers = [
"8.8.8.8",
"1.1.1.1",
"2001:4860:4860::8888"
]

# Remote JSON document with trusted resolvers, {"GoodDnsServers": [...]}.
# goodserversurl = "https://example.com/dnsproxy/config.json"

# Local copy of the remote document, read when the fetch fails and
# watched for changes.
goodserverscache = "goodservers.json"

# Only interfaces whose connection-specific DNS domain ends with this
# suffix are managed. Empty manages every interface.
domainsuffix = ""

# Domain queried on the untrusted resolvers to learn their tamper answers.
probedomain = "fastmail.com"

# Probe rounds over all untrusted resolvers and the timeout of each query.
# Every round sends an A and an AAAA query to each resolver, so a silent
# resolver costs proberounds * 2 * probetimeout. That must fit in half of
# steptimeout.
proberounds = 3
probetimeout = "2s"

# Upstream query timeout
timeout = "2s"

# Response write timeout
sendtimeout = "2s"

# Interface poll interval
pollinterval = "1s"

# Time allowed for setting up or restoring one interface, probing included.
steptimeout = "30s"

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# The location of access log file, left blank for disabled access logging.
# accesslog = ""

# Which clients allowed to make queries
accesslist = [
"127.0.0.1/32",
"::1/128"
]

# Client ip address rate limit for a minute, 0 for disabled.
clientratelimit = 0

# Address to bind to for the http API server, left blank for disabled
api = "127.0.0.1:8080"
`

// Default returns the configuration the generated file describes.
func Default() *Config {
	return &Config{
		Version:          configver,
		Bind:             "127.0.0.1:53",
		ProxyAddrs:       []string{"127.0.0.1"},
		GoodServers:      []string{"8.8.8.8", "1.1.1.1", "2001:4860:4860::8888"},
		GoodServersCache: "goodservers.json",
		ProbeDomain:      "fastmail.com",
		ProbeRounds:      defaultProbeRounds,
		ProbeTimeout:     Duration{2 * time.Second},
		Timeout:          Duration{2 * time.Second},
		SendTimeout:      Duration{2 * time.Second},
		PollInterval:     Duration{time.Second},
		StepTimeout:      Duration{30 * time.Second},
		LogLevel:         "info",
		AccessList:       []string{"127.0.0.1/32", "::1/128"},
		API:              "127.0.0.1:8080",
	}
}

// Load loads the given config file, a default file is generated when it
// does not exist.
func Load(cfgfile, version string) (*Config, error) {
	if _, err := os.Stat(cfgfile); os.IsNotExist(err) && cfgfile != "" {
		if err := Generate(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	config := Default()
	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the values the proxy can not start without.
func (c *Config) Validate() error {
	if _, err := netip.ParseAddrPort(c.Bind); err != nil {
		return fmt.Errorf("%w: bind %q: %w", ErrInvalid, c.Bind, err)
	}

	if len(c.ProxyAddrs) == 0 {
		return fmt.Errorf("%w: proxyaddrs is empty", ErrInvalid)
	}

	if _, err := c.ProxyAddresses(); err != nil {
		return err
	}

	if len(c.GoodServers) == 0 && c.GoodServersURL == "" && c.GoodServersCache == "" {
		return fmt.Errorf("%w: no source for good servers", ErrInvalid)
	}

	for name, d := range map[string]Duration{
		"probetimeout": c.ProbeTimeout,
		"timeout":      c.Timeout,
		"sendtimeout":  c.SendTimeout,
		"pollinterval": c.PollInterval,
		"steptimeout":  c.StepTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}

	if c.ProbeRounds < 0 {
		return fmt.Errorf("%w: proberounds must not be negative", ErrInvalid)
	}

	if budget := c.ProbeBudget(); budget > c.StepTimeout.Duration/2 {
		return fmt.Errorf("%w: probing a silent resolver takes %s, raise steptimeout to at least %s",
			ErrInvalid, budget, 2*budget)
	}

	if c.ClientRateLimit < 0 {
		return fmt.Errorf("%w: clientratelimit must not be negative", ErrInvalid)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: loglevel %q", ErrInvalid, c.LogLevel)
	}

	return nil
}

// ProbeBudget is the longest a probe of one silent resolver can take.
func (c *Config) ProbeBudget() time.Duration {
	rounds := c.ProbeRounds
	if rounds == 0 {
		rounds = defaultProbeRounds
	}

	return time.Duration(rounds) * 2 * c.ProbeTimeout.Duration
}

// ProxyAddresses returns the parsed proxy addresses.
func (c *Config) ProxyAddresses() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(c.ProxyAddrs))

	for _, s := range c.ProxyAddrs {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: proxyaddrs %q: %w", ErrInvalid, s, err)
		}

		addrs = append(addrs, addr.Unmap())
	}

	return addrs, nil
}

// Generate writes the default config file to path.
func Generate(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
