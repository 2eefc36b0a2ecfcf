// Package config loads gateway settings from defaults, an optional YAML file
// and environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide gateway configuration.
type Config struct {
	HTTPPort         int    `yaml:"http_port"`
	WebTransportPort int    `yaml:"webtransport_port"`
	WebTransportPath string `yaml:"webtransport_path"`
	PublicHost       string `yaml:"public_host"`
	WebhookURL       string `yaml:"webhook_url"`
	CertFile         string `yaml:"cert_file"`
	KeyFile          string `yaml:"key_file"`
	Debug            bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:         8080,
		WebTransportPort: 4433,
		WebTransportPath: "/",
		PublicHost:       "localhost",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment are used. getenv is usually os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("HTTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.HTTPPort = n
	}
	if v := getenv("WEBTRANSPORT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBTRANSPORT_PORT: %w", err)
		}
		c.WebTransportPort = n
	}
	if v := getenv("WEBTRANSPORT_PATH"); v != "" {
		c.WebTransportPath = v
	}
	if v := getenv("PUBLIC_HOST"); v != "" {
		c.PublicHost = v
	}
	if v := getenv("WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
	if v := getenv("WT_CERT_PEMFILE"); v != "" {
		c.CertFile = v
	}
	if v := getenv("WT_KEY_PEMFILE"); v != "" {
		c.KeyFile = v
	}
	if getenv("DEBUG") != "" {
		c.Debug = true
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	}
	if c.WebTransportPort < 1 || c.WebTransportPort > 65535 {
		return fmt.Errorf("webtransport port %d out of range", c.WebTransportPort)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert file and key file must be set together")
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook url %q must be an absolute http(s) URL", c.WebhookURL)
		}
	}
	return nil
}

// SelfSigned reports whether the gateway should generate its own identity.
func (c *Config) SelfSigned() bool { return c.CertFile == "" }

// HTTPAddr is the TCP listen address of the informational HTTP server.
func (c *Config) HTTPAddr() string { return ":" + strconv.Itoa(c.HTTPPort) }

// WebTransportAddr is the UDP listen address of the WebTransport endpoint.
func (c *Config) WebTransportAddr() string { return ":" + strconv.Itoa(c.WebTransportPort) }

// WebTransportURL is the URL browsers dial, as advertised by the dev UI.
func (c *Config) WebTransportURL() string {
	path := c.WebTransportPath
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("https://%s:%d%s", c.PublicHost, c.WebTransportPort, path)
}
