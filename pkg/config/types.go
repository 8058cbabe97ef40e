package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Access  AccessConfig  `yaml:"access"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP front-end settings.
type ServerConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// BridgeConfig tunes the adapter pair.
type BridgeConfig struct {
	// Workers bounds how many requests run in a wrapped synchronous
	// application concurrently.
	Workers int `yaml:"workers"`
	// QueueCapacity bounds the outbound queue between worker and sender.
	QueueCapacity int `yaml:"queue_capacity"`
	// ChunkSize bounds how much request body is pulled per inbound data
	// request ("64KiB" style values accepted).
	ChunkSize SizeBytes `yaml:"chunk_size"`
	// WaitBudget bounds how long a completed response waits for leftover
	// background work before cancelling it. Absent waits indefinitely;
	// an explicit "0s" returns immediately.
	WaitBudget *Duration `yaml:"wait_budget"`
}

// WaitBudgetOrDefault maps an absent wait budget to "wait indefinitely".
func (b *BridgeConfig) WaitBudgetOrDefault() time.Duration {
	if b.WaitBudget == nil {
		return -1
	}
	return b.WaitBudget.Duration()
}

// AccessConfig holds the access-record store and its retention policy.
type AccessConfig struct {
	DBPath    string `yaml:"db_path"`
	Retention struct {
		Enabled bool     `yaml:"enabled"`
		Cron    string   `yaml:"cron"`
		Period  Duration `yaml:"period"`
	} `yaml:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SizeBytes represents a number of bytes, unmarshaled from
// human-friendly strings like "64KiB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int() int { return int(s) }

// Duration wraps time.Duration with YAML parsing from strings like
// "100ms" or plain numbers interpreted as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
