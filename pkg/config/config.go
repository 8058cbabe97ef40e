package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. A missing file is an error; callers
// that treat the file as optional should check os.IsNotExist.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map of which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "", "access-record Pebble DB path (empty disables recording)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("APPBRIDGE_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("APPBRIDGE_DB"); v != "" {
		envUsed = true
		cfg.Access.DBPath = v
	}
	if v := os.Getenv("APPBRIDGE_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APPBRIDGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			envUsed = true
			cfg.Bridge.Workers = n
		}
	}
	return envUsed
}

// Effective is the merged result handed to the application.
type Effective struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // flags | env | config | defaults
}

// LoadEffective merges file, environment and defaults into one
// Effective config. The file is optional.
func LoadEffective(cfgPath string) (Effective, error) {
	cfg, err := Load(cfgPath)
	source := "config"
	if err != nil {
		if !os.IsNotExist(err) && cfgPath != "" {
			// a present-but-broken file is fatal; a missing one falls back
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return Effective{}, err
			}
		}
		cfg = &Config{}
		source = "defaults"
	}
	if LoadEnvOverrides(cfg) {
		source = "env"
	}
	return Effective{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Access.DBPath, Source: source}, nil
}
