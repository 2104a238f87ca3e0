package config

import (
	"fmt"
	"time"
)

// Default values applied by Validate when the config file omits a field.
const (
	DefaultListen        = ":8080"
	DefaultKeepAlive     = 15 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultQueueCapacity = 256
	DefaultPoolSize      = 4
	DefaultWriterQueue   = 1024
)

// Config represents a conduit.yaml configuration file.
// All values are optional; Validate fills in defaults and rejects
// combinations that cannot produce a working engine.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bus     BusConfig     `yaml:"bus"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen       string   `yaml:"listen"`
	KeepAlive    Duration `yaml:"keep_alive"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

// StorageConfig holds durability settings. Backend "none" disables the
// write-behind store entirely.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	PoolSize    int    `yaml:"pool_size"`
	WriterQueue int    `yaml:"writer_queue"`
}

// AdapterConfig holds completion notification settings. Type "none"
// disables notifications.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate applies defaults and rejects invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.KeepAlive.Duration == 0 {
		c.Server.KeepAlive.Duration = DefaultKeepAlive
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = DefaultWriteTimeout
	}

	if c.Bus.QueueCapacity < 0 {
		return fmt.Errorf("bus.queue_capacity must be non-negative, got %d", c.Bus.QueueCapacity)
	}
	if c.Bus.QueueCapacity == 0 {
		c.Bus.QueueCapacity = DefaultQueueCapacity
	}

	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = "none"
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for backend %q", c.Storage.Backend)
		}
	case "none":
	default:
		return fmt.Errorf("unknown storage.backend %q (must be sqlite or none)", c.Storage.Backend)
	}
	if c.Storage.PoolSize == 0 {
		c.Storage.PoolSize = DefaultPoolSize
	}
	if c.Storage.WriterQueue == 0 {
		c.Storage.WriterQueue = DefaultWriterQueue
	}

	switch c.Adapter.Type {
	case "":
		c.Adapter.Type = "none"
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter.url is required for type %q", c.Adapter.Type)
		}
	case "none":
	default:
		return fmt.Errorf("unknown adapter.type %q (must be redis, webhook, or none)", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be non-negative, got %d", *c.Adapter.Retries)
	}

	return nil
}
