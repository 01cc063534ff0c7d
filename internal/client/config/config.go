// Package config loads settings for the ledger command-line client.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/P-T-/OpenCoins/internal/timex"
	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "OPENCOINS_"

// Config holds runtime settings for the client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the ledger gRPC endpoint.
//   - Timeout: deadline applied to every call.
type Config struct {
	ServerEndpointAddr string        `env:"SERVER_ADDR"`
	Timeout            time.Duration `env:"TIMEOUT"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.Timeout = 10 * time.Second
}

// JsonConfig is the on-disk shape of the optional JSON config file.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	Timeout            timex.Duration `json:"timeout"`
}

// Load applies defaults, the environment, the JSON file named by -c/-config
// and the -a/-t flags, in that order. Parsing stops at the first non-flag
// argument; it and everything after it are returned as the command line.
func Load(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, nil, fmt.Errorf("parsing environment: %w", err)
	}

	fs := flag.NewFlagSet("opencoins", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	addr := fs.String("a", "", "address and port of the ledger server")
	timeout := fs.Int("t", 0, "call timeout (in seconds)")
	var path string
	fs.StringVar(&path, "c", "", "path to config file (short)")
	fs.StringVar(&path, "config", "", "path to config file")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if path != "" {
		if err := parseJson(cfg, path); err != nil {
			return nil, nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.ServerEndpointAddr = *addr
		case "t":
			cfg.Timeout = time.Duration(*timeout) * time.Second
		}
	})

	return cfg, fs.Args(), nil
}

func parseJson(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("decoding config file: %w", err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.Timeout.Duration != 0 {
		cfg.Timeout = jc.Timeout.Duration
	}
	return nil
}
