package redispool

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by New to zero-valued options.
const (
	DefaultPort               = 6379
	DefaultConnectionsPerNode = 4
	DefaultConnectTimeout     = 5 * time.Second
	DefaultCommandTimeout     = 5 * time.Second
	DefaultProbeTimeout       = 2 * time.Second
	DefaultMaxRedirects       = 3
)

// NoRedirects as Options.MaxRedirects makes MOVED and ASK replies fail the
// command instead of being followed. Zero means DefaultMaxRedirects.
const NoRedirects = -1

// Options describes how to reach a deployment. Only Host is required.
//
// The same shape is read from YAML by LoadOptions:
//
//	host: 10.0.0.5
//	port: 7000
//	connectionsPerNode: 8
//	commandTimeout: 2s
type Options struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// DB is the database index a Client.DB handle uses.
	DB int `yaml:"db"`
	// ConnectionsPerNode caps idle connections kept per node. More may be
	// open while borrowed.
	ConnectionsPerNode int           `yaml:"connectionsPerNode"`
	ConnectTimeout     time.Duration `yaml:"connectTimeout"`
	CommandTimeout     time.Duration `yaml:"commandTimeout"`
	// ProbeTimeout bounds topology discovery.
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
	// MaxRedirects bounds MOVED/ASK retries per command.
	MaxRedirects int    `yaml:"maxRedirects"`
	ClientName   string `yaml:"clientName"`

	Logger *slog.Logger `yaml:"-"`
}

// ConfigError reports an unusable connection descriptor.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ConnectionsPerNode == 0 {
		o.ConnectionsPerNode = DefaultConnectionsPerNode
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.ClientName == "" {
		o.ClientName = "redispool"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch {
	case strings.TrimSpace(o.Host) == "":
		return &ConfigError{Field: "host", Err: errors.New("must not be empty")}
	case o.Port < 1 || o.Port > 65535:
		return &ConfigError{Field: "port", Value: strconv.Itoa(o.Port), Err: errors.New("out of range")}
	case o.DB < 0:
		return &ConfigError{Field: "db", Value: strconv.Itoa(o.DB), Err: errors.New("must not be negative")}
	case o.ConnectionsPerNode < 1:
		return &ConfigError{Field: "connectionsPerNode", Value: strconv.Itoa(o.ConnectionsPerNode), Err: errors.New("must be positive")}
	case o.ConnectTimeout < 0, o.CommandTimeout < 0, o.ProbeTimeout < 0:
		return &ConfigError{Field: "timeout", Err: errors.New("must not be negative")}
	case o.MaxRedirects < NoRedirects:
		return &ConfigError{Field: "maxRedirects", Value: strconv.Itoa(o.MaxRedirects), Err: errors.New("must be -1 (no redirects) or more")}
	}
	return nil
}

// Addr is the seed address built from Host and Port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.withDefaults().Port))
}

// ParseURI reads "redis://host[:port][/db][?option=value...]". Recognised
// options are connectionsPerNode, connectTimeout, commandTimeout,
// probeTimeout, maxRedirects and clientName. Anything unrecognised or
// unparsable is a *ConfigError, as is an explicit zero port, connection count
// or timeout. maxRedirects=0 disables redirects.
func ParseURI(uri string) (Options, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Options{}, &ConfigError{Field: "uri", Value: uri, Err: err}
	}
	if u.Scheme != "redis" {
		return Options{}, &ConfigError{Field: "scheme", Value: u.Scheme, Err: errors.New(`want "redis"`)}
	}
	if u.User != nil {
		return Options{}, &ConfigError{Field: "uri", Value: uri, Err: errors.New("credentials are not supported")}
	}

	var o Options
	o.Host = u.Hostname()
	if p := u.Port(); p != "" {
		if o.Port, err = positive(p); err != nil {
			return Options{}, &ConfigError{Field: "port", Value: p, Err: err}
		}
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		if o.DB, err = strconv.Atoi(db); err != nil {
			return Options{}, &ConfigError{Field: "db", Value: db, Err: err}
		}
	}

	for name, values := range u.Query() {
		value := values[len(values)-1]
		if err := o.setOption(name, value); err != nil {
			return Options{}, &ConfigError{Field: name, Value: value, Err: err}
		}
	}

	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o *Options) setOption(name, value string) error {
	var err error
	switch name {
	case "connectionsPerNode":
		o.ConnectionsPerNode, err = positive(value)
	case "maxRedirects":
		o.MaxRedirects, err = strconv.Atoi(value)
		if err == nil && o.MaxRedirects == 0 {
			o.MaxRedirects = NoRedirects
		}
	case "connectTimeout":
		o.ConnectTimeout, err = positiveDuration(value)
	case "commandTimeout":
		o.CommandTimeout, err = positiveDuration(value)
	case "probeTimeout":
		o.ProbeTimeout, err = positiveDuration(value)
	case "clientName":
		o.ClientName = value
	default:
		err = errors.New("unknown option")
	}
	return err
}

func positive(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

func positiveDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, &ConfigError{Field: "config file", Value: path, Err: err}
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}
