// Package config implements the dkimverify configuration: the tuning
// knobs for the verification pipeline that are not part of an individual
// message (allowed algorithms, DNS timeouts, and similar limits).
package config

import (
	"fmt"
	"os"
	"time"

	"blitiri.com.ar/go/log"
	"gopkg.in/yaml.v2"
)

// Config holds the verifier's tunable behaviour.
type Config struct {
	// AllowSHA1 enables accepting a=rsa-sha1 signatures. RFC 8301 says
	// SHA-1 must not be used; we default to rejecting it, but some legacy
	// senders still sign with it.
	AllowSHA1 bool `yaml:"allow_sha1"`

	// DNSTimeoutStr bounds each TXT lookup. Stored as a string and parsed
	// through DNSTimeout(). Load rejects a value that does not parse as a
	// duration, including an empty one; in a Config built by hand, an
	// empty string makes DNSTimeout() return 0, which means no timeout.
	DNSTimeoutStr string `yaml:"dns_timeout"`

	// MaxSignatures caps how many DKIM-Signature headers are evaluated,
	// to bound work on a hostile message with many signatures.
	// https://datatracker.ietf.org/doc/html/rfc6376#section-8.4
	MaxSignatures int `yaml:"max_signatures"`

	// StrictDomainScope, when true, applies the public key's "t=s" flag,
	// which requires the i= domain to equal d= exactly rather than be a
	// subdomain of it; kept as an explicit knob so operators can opt out
	// if a signer's keys predate consistent t=s usage.
	StrictDomainScope bool `yaml:"strict_domain_scope"`
}

var defaultConfig = Config{
	AllowSHA1:         false,
	DNSTimeoutStr:     "5s",
	MaxSignatures:     5,
	StrictDomainScope: true,
}

// Load reads a YAML config file at path, applying it over the defaults.
// Fields absent from the file keep their default value, the same
// layering the chasquid config loader uses for its protobuf config, but
// simpler: yaml.Unmarshal only touches keys that are actually present.
func Load(path string) (*Config, error) {
	c := defaultConfig

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config at %q: %w", path, err)
	}

	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if _, err := time.ParseDuration(c.DNSTimeoutStr); err != nil {
		return nil, fmt.Errorf("invalid dns_timeout value %q: %w",
			c.DNSTimeoutStr, err)
	}

	return &c, nil
}

// Default returns a copy of the built-in default configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// DNSTimeout returns the parsed DNS lookup timeout.
// Load and Default always yield a parseable DNSTimeoutStr; a value that
// does not parse returns 0.
func (c *Config) DNSTimeout() time.Duration {
	d, _ := time.ParseDuration(c.DNSTimeoutStr)
	return d
}

// LogConfig writes the configuration to the package logger, for
// diagnostics.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Allow SHA-1 signatures: %v", c.AllowSHA1)
	log.Infof("  DNS timeout: %s", c.DNSTimeout())
	log.Infof("  Max signatures per message: %d", c.MaxSignatures)
	log.Infof("  Strict domain scope: %v", c.StrictDomainScope)
}
