package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.RPCAddr != DefaultRPCAddr {
		t.Fatalf("rpc addr = %q", cfg.RPCAddr)
	}
	if cfg.Relay.Transport != "mock" {
		t.Fatalf("transport = %q", cfg.Relay.Transport)
	}
	if cfg.Signer.RateRPS != 2 || cfg.Signer.RateBurst != 8 {
		t.Fatalf("signer rate = %v/%d", cfg.Signer.RateRPS, cfg.Signer.RateBurst)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyhaven.yaml")
	body := `
rpcAddr: "127.0.0.1:9000"
relay:
  transport: go-waku
  bootstrapNodes:
    - /ip4/10.0.0.1/tcp/60000/p2p/16Uiu2HAm
  reconnectInterval: 5s
signer:
  rateRps: 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load(path)
	if cfg.RPCAddr != "127.0.0.1:9000" {
		t.Fatalf("rpc addr = %q", cfg.RPCAddr)
	}
	if cfg.Relay.Transport != "go-waku" {
		t.Fatalf("transport = %q", cfg.Relay.Transport)
	}
	if len(cfg.Relay.BootstrapNodes) != 1 {
		t.Fatalf("bootstrap nodes = %v", cfg.Relay.BootstrapNodes)
	}
	if cfg.Relay.ReconnectInterval != 5*time.Second {
		t.Fatalf("reconnect interval = %v", cfg.Relay.ReconnectInterval)
	}
	if cfg.Signer.RateRPS != 4 {
		t.Fatalf("rate rps = %v", cfg.Signer.RateRPS)
	}
	// Unset fields keep defaults.
	if cfg.Signer.RateBurst != 8 {
		t.Fatalf("rate burst = %d", cfg.Signer.RateBurst)
	}
	if cfg.DataDir == "" {
		t.Fatal("data dir should keep default")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.RPCAddr != DefaultRPCAddr {
		t.Fatalf("rpc addr = %q", cfg.RPCAddr)
	}
}

func TestLoadMalformedFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("rpcAddr: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := Load(path)
	if cfg.RPCAddr != DefaultRPCAddr {
		t.Fatalf("rpc addr = %q", cfg.RPCAddr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEYHAVEN_RPC_ADDR", "127.0.0.1:9100")
	t.Setenv("KEYHAVEN_DATA_DIR", "/tmp/khdata")
	t.Setenv("KEYHAVEN_TRANSPORT", "go-waku")
	t.Setenv("KEYHAVEN_BOOTSTRAP_NODES", " /dns4/a.example/tcp/60000/p2p/x , /dns4/b.example/tcp/60000/p2p/y ,")

	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.RPCAddr != "127.0.0.1:9100" {
		t.Fatalf("rpc addr = %q", cfg.RPCAddr)
	}
	if cfg.DataDir != "/tmp/khdata" {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	if cfg.Relay.Transport != "go-waku" {
		t.Fatalf("transport = %q", cfg.Relay.Transport)
	}
	if len(cfg.Relay.BootstrapNodes) != 2 || cfg.Relay.BootstrapNodes[1] != "/dns4/b.example/tcp/60000/p2p/y" {
		t.Fatalf("bootstrap nodes = %v", cfg.Relay.BootstrapNodes)
	}
}

func TestMergeKeepsDestinationForZeroValues(t *testing.T) {
	dst := Default()
	dst.Relay.MinPeers = 3
	Merge(&dst, Config{RPCAddr: "127.0.0.1:9200"})
	if dst.RPCAddr != "127.0.0.1:9200" {
		t.Fatalf("rpc addr = %q", dst.RPCAddr)
	}
	if dst.Relay.MinPeers != 3 {
		t.Fatalf("min peers = %d", dst.Relay.MinPeers)
	}
	if dst.Relay.Transport != "mock" {
		t.Fatalf("transport = %q", dst.Relay.Transport)
	}
}
