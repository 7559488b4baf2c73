// Package config loads the sarascript YAML configuration.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/ib-77/sarascript/pkg/fetch"
)

const DefaultPath = "/etc/sarascript.yaml"

type Redis struct {
	// Addr enables the shared fetch cache when set.
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

type Config struct {
	Root                   string        `yaml:"root"`
	Listen                 string        `yaml:"listen"`
	DefaultAuthority       string        `yaml:"default_authority"`
	ServerSideRendering    bool          `yaml:"server_side_rendering"`
	CertificateAuthorities []string      `yaml:"certificate_authorities"`
	MaxWorkers             int           `yaml:"max_workers"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	TLSTimeout             time.Duration `yaml:"tls_timeout"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
	Redis                  Redis         `yaml:"redis"`
}

func Default() *Config {
	return &Config{
		Root:                ".",
		Listen:              ":8080",
		ServerSideRendering: true,
		ConnectTimeout:      fetch.DefaultConnectTimeout,
		TLSTimeout:          fetch.DefaultTLSTimeout,
		RequestTimeout:      fetch.DefaultRequestTimeout,
		Redis: Redis{
			TTL: 5 * time.Minute,
		},
	}
}

// Load reads path over Default. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalWithOptions(data, c, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is empty"))
	}
	if c.DefaultAuthority != "" {
		if _, err := fetch.ParseAuthority(c.DefaultAuthority); err != nil {
			errs = append(errs, fmt.Errorf("default_authority: %w", err))
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout},
		{"tls_timeout", c.TLSTimeout},
		{"request_timeout", c.RequestTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, fmt.Errorf("redis.ttl must be positive, got %s", c.Redis.TTL))
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers must not be negative, got %d", c.MaxWorkers))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CertPool returns the system roots plus every configured PEM file, or nil
// when none are configured.
func (c *Config) CertPool() (*x509.CertPool, error) {
	if len(c.CertificateAuthorities) == 0 {
		return nil, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	for _, path := range c.CertificateAuthorities {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: certificate_authorities: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("config: certificate_authorities: no certificates in %s", path)
		}
	}
	return pool, nil
}
