// Package config holds the test server settings.
// Defaults can be overridden via testserver.yaml in the served directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the optional override file looked up in the root directory.
const FileName = "testserver.yaml"

// Link is a convenience URL printed in the startup banner.
type Link struct {
	Label string `yaml:"label"`
	Path  string `yaml:"path"`
	Icon  string `yaml:"icon"`
}

// Config holds the server settings.
type Config struct {
	Root  string `yaml:"-"`    // Directory served, always absolute
	Host  string `yaml:"host"` // Empty binds all interfaces
	Port  int    `yaml:"port"` // Default 8080
	Title string `yaml:"title"`
	Links []Link `yaml:"links"`

	Compress  bool `yaml:"compress"`  // gzip responses (default: false)
	Watch     bool `yaml:"watch"`     // Log file changes under Root (default: true)
	AccessLog bool `yaml:"accessLog"` // One log line per request (default: true)

	Debounce        time.Duration `yaml:"debounce"`        // Watcher debounce (default: 300ms)
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // Graceful stop budget (default: 5s)
}

// Default returns the configuration used when no override file exists.
func Default(root string) *Config {
	return &Config{
		Root:  root,
		Host:  "",
		Port:  8080,
		Title: "NSBE Battle Pass Test Server",
		Links: []Link{
			{Label: "Main App", Path: "/index.html", Icon: "📱"},
			{Label: "Debug Tool", Path: "/raw-data-debug.html", Icon: "🔍"},
		},

		Compress:  false,
		Watch:     true,
		AccessLog: true,

		Debounce:        300 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load returns the defaults for root overlaid with root/testserver.yaml.
// A missing file is not an error; a malformed one is.
func Load(root string) (*Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root directory: %w", err)
	}
	cfg := Default(absRoot)

	data, err := os.ReadFile(filepath.Join(absRoot, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	cfg.Root = absRoot

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects unusable values and clamps tunables into range.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = Default(c.Root).Title
	}
	for i := range c.Links {
		if c.Links[i].Path == "" {
			return fmt.Errorf("link %q has no path", c.Links[i].Label)
		}
		if !strings.HasPrefix(c.Links[i].Path, "/") {
			c.Links[i].Path = "/" + c.Links[i].Path
		}
		if c.Links[i].Icon == "" {
			c.Links[i].Icon = "🔗"
		}
	}

	if c.Debounce < 10*time.Millisecond {
		c.Debounce = 10 * time.Millisecond
	}
	if c.Debounce > 5*time.Second {
		c.Debounce = 5 * time.Second
	}
	if c.ShutdownTimeout < 1*time.Second {
		c.ShutdownTimeout = 1 * time.Second
	}
	if c.ShutdownTimeout > 60*time.Second {
		c.ShutdownTimeout = 60 * time.Second
	}
	return nil
}

// Address returns the listen address, e.g. ":8080".
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL is the URL printed for humans; all-interface binds show localhost.
func (c *Config) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}
