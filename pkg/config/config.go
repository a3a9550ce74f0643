// Package config loads raftd settings from a YAML file and the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/registry"
	tlspkg "github.com/dd0wney/cluso-raft/pkg/tls"
)

// Environment variables that override the file
const (
	EnvNodeSecret   = "RAFT_NODE_SECRET"
	EnvCookieSecret = "RAFT_COOKIE_SECRET"
	EnvListenAddr   = "RAFT_LISTEN_ADDR"
	EnvTransport    = "RAFT_TRANSPORT"
	EnvDevelopment  = "RAFT_DEVELOPMENT"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
)

// Transport kinds
const (
	TransportLocal = "local"
	TransportHTTP  = "http"
	TransportNNG   = "nng"
)

// MinSecretLength applies to the node and cookie secrets
const MinSecretLength = 32

var (
	ErrShortNodeSecret   = fmt.Errorf("node secret must be at least %d characters", MinSecretLength)
	ErrShortCookieSecret = fmt.Errorf("cookie secret must be at least %d characters", MinSecretLength)
	ErrMissingPeer       = errors.New("no peer address for member")
)

// validate is a singleton validator instance
var validate = validator.New()

// Config is the complete raftd configuration
type Config struct {
	Listen      string           `yaml:"listen" validate:"required"`
	Members     []cluster.NodeID `yaml:"members" validate:"min=3,max=11,unique"`
	NodeSecret  string           `yaml:"node_secret"`
	Development bool             `yaml:"development"`

	Timing    TimingConfig    `yaml:"timing"`
	Transport TransportConfig `yaml:"transport"`
	HTTP      HTTPConfig      `yaml:"http"`
	TLS       TLSConfig       `yaml:"tls"`
	Registry  RegistryConfig  `yaml:"registry"`
	Cookie    CookieConfig    `yaml:"cookie"`
	Log       LogConfig       `yaml:"log"`
}

// TimingConfig holds the election clock
type TimingConfig struct {
	Heartbeat      time.Duration `yaml:"heartbeat" validate:"gt=0"`
	ElectionFactor int           `yaml:"election_factor" validate:"min=2"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout" validate:"gt=0"`
}

// TransportConfig selects how nodes reach each other
type TransportConfig struct {
	Kind  string                    `yaml:"kind" validate:"oneof=local http nng"`
	Peers map[cluster.NodeID]string `yaml:"peers"` // base URL (http) or dial address (nng) per member

	NNGListen  string `yaml:"nng_listen"`
	NNGWorkers int    `yaml:"nng_workers" validate:"min=0"`
}

// HTTPConfig tunes the client-facing side of the listener
type HTTPConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"` // websocket origins beside same-origin
	TrustedProxies []string      `yaml:"trusted_proxies"` // CIDRs whose X-Forwarded-For is believed
	ConnectRate    float64       `yaml:"connect_rate" validate:"min=0"` // client connects per second per IP, 0 disables
	ConnectBurst   int           `yaml:"connect_burst" validate:"min=0"`
	ReadLimit      int64         `yaml:"read_limit" validate:"min=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// TLSConfig serves the listener over HTTPS and verifies peers
type TLSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	CertFile         string   `yaml:"cert_file"`
	KeyFile          string   `yaml:"key_file"`
	CAFile           string   `yaml:"ca_file"`
	AutoGenerate     bool     `yaml:"auto_generate"`
	Hosts            []string `yaml:"hosts"`
	RequirePeerCerts bool     `yaml:"require_peer_certs"`
}

// RegistryConfig controls actor reaping
type RegistryConfig struct {
	IdleTTL      time.Duration `yaml:"idle_ttl" validate:"gt=0"`
	ReapInterval time.Duration `yaml:"reap_interval" validate:"gt=0"`
}

// CookieConfig configures the cluster cookie
type CookieConfig struct {
	Secret string        `yaml:"secret"`
	Domain string        `yaml:"domain"`
	MaxAge time.Duration `yaml:"max_age" validate:"min=0"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns a configuration for a single process hosting every node
func Default() Config {
	t := cluster.DefaultTiming()
	return Config{
		Listen:  ":8080",
		Members: append([]cluster.NodeID(nil), cluster.DefaultMembers...),
		Timing: TimingConfig{
			Heartbeat:      t.HeartbeatInterval,
			ElectionFactor: t.ElectionFactor,
			RPCTimeout:     t.RPCTimeout,
		},
		Transport: TransportConfig{Kind: TransportLocal},
		HTTP: HTTPConfig{
			ConnectRate:  5,
			ConnectBurst: 30,
			ReadLimit:    4096,
			WriteTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			IdleTTL:      registry.DefaultIdleTTL,
			ReapInterval: registry.DefaultReapInterval,
		},
		Log: LogConfig{Level: "info", Format: logging.FormatJSON},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvNodeSecret); ok {
		c.NodeSecret = v
	}
	if v, ok := lookup(EnvCookieSecret); ok {
		c.Cookie.Secret = v
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		c.Transport.Kind = v
	}
	if v, ok := lookup(EnvDevelopment); ok && v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDevelopment, err)
		}
		c.Development = dev
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	return nil
}

// Validate checks struct tags first, then the rules that span fields. Every
// cross-field problem is reported, not just the first.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	var errs []error
	if err := c.ClusterMembers().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("members: %w", err))
	}
	if err := c.ClusterTiming().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("timing: %w", err))
	}
	if len(c.Cookie.Secret) < MinSecretLength {
		errs = append(errs, ErrShortCookieSecret)
	}

	if c.Transport.Kind != TransportLocal {
		if len(c.NodeSecret) < MinSecretLength {
			errs = append(errs, ErrShortNodeSecret)
		}
		for _, id := range c.Members {
			if c.Transport.Peers[id] == "" {
				errs = append(errs, fmt.Errorf("transport.peers: %w %s", ErrMissingPeer, id))
			}
		}
	} else if c.NodeSecret != "" && len(c.NodeSecret) < MinSecretLength {
		errs = append(errs, ErrShortNodeSecret)
	}
	if c.HTTP.ConnectRate > 0 && c.HTTP.ConnectBurst < 1 {
		errs = append(errs, errors.New("http.connect_burst: must be at least 1 when connect_rate is set"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls: cert_file and key_file must be set together"))
	}
	if c.TLS.Enabled && c.TLS.CertFile == "" && !c.TLS.AutoGenerate {
		errs = append(errs, errors.New("tls: enabled without cert_file or auto_generate"))
	}
	if c.TLS.RequirePeerCerts && c.TLS.CAFile == "" {
		errs = append(errs, errors.New("tls.require_peer_certs: needs ca_file"))
	}
	if c.Transport.Kind == TransportNNG && c.Transport.NNGListen == "" {
		errs = append(errs, errors.New("transport.nng_listen: required for nng transport"))
	}

	return errors.Join(errs...)
}

// ClusterMembers returns the configured membership
func (c Config) ClusterMembers() cluster.Members {
	return cluster.Members(c.Members)
}

// ClusterTiming returns the configured election clock
func (c Config) ClusterTiming() cluster.Timing {
	return cluster.Timing{
		HeartbeatInterval: c.Timing.Heartbeat,
		ElectionFactor:    c.Timing.ElectionFactor,
		RPCTimeout:        c.Timing.RPCTimeout,
	}
}

// TLSOptions converts the tls section for pkg/tls
func (c Config) TLSOptions() *tlspkg.Config {
	opts := tlspkg.DefaultConfig()
	opts.Enabled = c.TLS.Enabled
	opts.CertFile = c.TLS.CertFile
	opts.KeyFile = c.TLS.KeyFile
	opts.CAFile = c.TLS.CAFile
	opts.AutoGenerate = c.TLS.AutoGenerate
	opts.RequirePeerCerts = c.TLS.RequirePeerCerts
	if len(c.TLS.Hosts) > 0 {
		opts.Hosts = c.TLS.Hosts
	}
	return opts
}

// LogLevel returns the parsed log level
func (c Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// formatValidationError reports the first failed tag in a readable form
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, e.Param())
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, e.Param())
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s], got %v", field, e.Param(), e.Value())
		case "unique":
			return fmt.Errorf("%s: %w", field, cluster.ErrDuplicateNodeID)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
