package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evycomm.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Mesh.DiscoveryIntervalS != 30 || cfg.Mesh.NeighborStaleS != 300 || cfg.Mesh.RouteRefreshS != 60 {
		t.Fatalf("mesh defaults = %d/%d/%d, want 30/300/60",
			cfg.Mesh.DiscoveryIntervalS, cfg.Mesh.NeighborStaleS, cfg.Mesh.RouteRefreshS)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("queue max attempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
	if got := cfg.Queue.RetryDelaysS; len(got) != 3 || got[0] != 60 || got[1] != 300 || got[2] != 900 {
		t.Fatalf("retry ladder = %v, want [60 300 900]", got)
	}
	if !cfg.Layers.SMS.Enable || cfg.Layers.SMS.Driver != "sim" {
		t.Fatal("sms sim driver should be enabled by default")
	}
	if cfg.Layers.Internet.Enable {
		t.Fatal("internet should be disabled until peers are configured")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
node_name: ridge-relay
capabilities: [relay, inference]
log:
  level: debug
mesh:
  discovery_interval_s: 5
  lat: -1.286
  lon: 36.817
  radio:
    driver: udp
    bridge_addr: 127.0.0.1:9000
queue:
  max_attempts: 4
  retry_delays_s: [1, 2, 3]
layers:
  internet:
    enable: true
    probe_url: http://127.0.0.1:8080/healthz
    peers:
      - name: cloud-1
        url: http://127.0.0.1:8080/ingest
        capabilities: [inference]
  sms:
    rate_per_min: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeName != "ridge-relay" {
		t.Fatalf("node_name = %q", cfg.NodeName)
	}
	if cfg.Mesh.DiscoveryIntervalS != 5 {
		t.Fatalf("discovery interval = %d", cfg.Mesh.DiscoveryIntervalS)
	}
	if cfg.Mesh.Radio.Driver != "udp" || cfg.Mesh.Radio.BridgeAddr != "127.0.0.1:9000" {
		t.Fatalf("radio = %+v", cfg.Mesh.Radio)
	}
	if cfg.Mesh.Lat == 0 || cfg.Mesh.Lon == 0 {
		t.Fatalf("position not loaded: %v,%v", cfg.Mesh.Lat, cfg.Mesh.Lon)
	}
	if cfg.Queue.MaxAttempts != 4 || len(cfg.Queue.RetryDelaysS) != 3 {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if !cfg.Layers.Internet.Enable || len(cfg.Layers.Internet.Peers) != 1 {
		t.Fatalf("internet = %+v", cfg.Layers.Internet)
	}
	if cfg.Layers.Internet.Peers[0].Name != "cloud-1" {
		t.Fatalf("peer = %+v", cfg.Layers.Internet.Peers[0])
	}
	if cfg.Layers.SMS.RatePerMin != 30 {
		t.Fatalf("sms rate = %d", cfg.Layers.SMS.RatePerMin)
	}
	// untouched fields keep their defaults
	if cfg.Mesh.NeighborStaleS != 300 {
		t.Fatalf("neighbor stale = %d, want default 300", cfg.Mesh.NeighborStaleS)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := writeConfig(t, "log:\n  level: noisy\n")
	if _, err := Load(path); err == nil {
		t.Fatal("bad log level accepted")
	}
}

func TestLoadRejectsUnknownRadioDriver(t *testing.T) {
	path := writeConfig(t, "mesh:\n  radio:\n    driver: carrier-pigeon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown radio driver accepted")
	}
}

func TestLoadRequiresBridgeAddrForUDP(t *testing.T) {
	path := writeConfig(t, "mesh:\n  radio:\n    driver: udp\n")
	if _, err := Load(path); err == nil {
		t.Fatal("udp radio without bridge_addr accepted")
	}
}

func TestLoadRequiresGatewayURL(t *testing.T) {
	path := writeConfig(t, "layers:\n  sms:\n    driver: gateway\n")
	if _, err := Load(path); err == nil {
		t.Fatal("gateway sms without url accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EVYCOMM_LOG_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q, want env override warn", cfg.Log.Level)
	}
}
