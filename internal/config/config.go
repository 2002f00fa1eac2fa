// Package config loads the daemon configuration: YAML file first, then
// environment overrides on top of compiled defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"keyhaven/internal/relay"
)

const DefaultRPCAddr = "127.0.0.1:8770"

type Config struct {
	RPCAddr string       `yaml:"rpcAddr"`
	DataDir string       `yaml:"dataDir"`
	Relay   relay.Config `yaml:"relay"`
	Signer  SignerConfig `yaml:"signer"`
}

type SignerConfig struct {
	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`
}

func Default() Config {
	return Config{
		RPCAddr: DefaultRPCAddr,
		DataDir: defaultDataDir(),
		Relay:   relay.DefaultConfig(),
		Signer:  SignerConfig{RateRPS: 2, RateBurst: 8},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyhaven"
	}
	return filepath.Join(home, ".keyhaven")
}

// Load reads the config at path, or the first readable default
// candidate when path is empty. A missing or malformed file falls back
// to defaults; environment overrides always apply last.
func Load(path string) Config {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{
			"configs/keyhaven.yaml",
			filepath.Join(defaultDataDir(), "keyhaven.yaml"),
		}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.RPCAddr != "" {
		dst.RPCAddr = src.RPCAddr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Relay.Transport != "" {
		dst.Relay.Transport = src.Relay.Transport
	}
	if src.Relay.Port != 0 {
		dst.Relay.Port = src.Relay.Port
	}
	if src.Relay.AdvertiseAddress != "" {
		dst.Relay.AdvertiseAddress = src.Relay.AdvertiseAddress
	}
	if src.Relay.BootstrapNodes != nil {
		dst.Relay.BootstrapNodes = src.Relay.BootstrapNodes
	}
	if src.Relay.MinPeers != 0 {
		dst.Relay.MinPeers = src.Relay.MinPeers
	}
	if src.Relay.ReconnectInterval != 0 {
		dst.Relay.ReconnectInterval = src.Relay.ReconnectInterval
	}
	if src.Relay.ReconnectBackoffMax != 0 {
		dst.Relay.ReconnectBackoffMax = src.Relay.ReconnectBackoffMax
	}
	if src.Signer.RateRPS != 0 {
		dst.Signer.RateRPS = src.Signer.RateRPS
	}
	if src.Signer.RateBurst != 0 {
		dst.Signer.RateBurst = src.Signer.RateBurst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("KEYHAVEN_RPC_ADDR")); v != "" {
		cfg.RPCAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYHAVEN_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYHAVEN_TRANSPORT")); v != "" {
		cfg.Relay.Transport = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYHAVEN_BOOTSTRAP_NODES")); v != "" {
		parts := strings.Split(v, ",")
		nodes := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				nodes = append(nodes, p)
			}
		}
		cfg.Relay.BootstrapNodes = nodes
	}
}
