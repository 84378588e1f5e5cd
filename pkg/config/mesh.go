package config

import "fmt"

// MeshConfig holds mesh protocol engine settings. Interval fields are in
// seconds and overridable; the defaults match the fabric's reference tuning.
type MeshConfig struct {
	// DiscoveryIntervalS is the discovery broadcast period.
	DiscoveryIntervalS int `mapstructure:"discovery_interval_s"`
	// NeighborStaleS evicts neighbors silent for longer than this window.
	NeighborStaleS int `mapstructure:"neighbor_stale_s"`
	// RouteRefreshS is the routing-table recomputation period.
	RouteRefreshS int `mapstructure:"route_refresh_s"`
	// DefaultTTL is the hop budget stamped on locally originated packets.
	DefaultTTL int `mapstructure:"default_ttl"`
	// MaxPayload bounds a single frame's payload in bytes.
	MaxPayload int `mapstructure:"max_payload"`
	// DedupWindowS is how long (source, seq) pairs stay in the seen cache.
	DedupWindowS int `mapstructure:"dedup_window_s"`

	// Lat/Lon, when both set, are advertised in discovery packets so
	// neighbors can factor distance into relay choices.
	Lat float64 `mapstructure:"lat"`
	Lon float64 `mapstructure:"lon"`

	// Radio selects the physical substrate backend.
	Radio RadioConfig `mapstructure:"radio"`
}

// RadioConfig selects and parameterizes the radio backend.
type RadioConfig struct {
	// Driver: "sim" (in-process airspace) or "udp" (datagram bridge to a
	// radio daemon).
	Driver string `mapstructure:"driver"`
	// Listen is the local UDP address for the bridge driver.
	Listen string `mapstructure:"listen"`
	// BridgeAddr is the radio daemon's UDP address for the bridge driver.
	BridgeAddr string `mapstructure:"bridge_addr"`
}

// DefaultMesh returns mesh defaults.
func DefaultMesh() MeshConfig {
	return MeshConfig{
		DiscoveryIntervalS: 30,
		NeighborStaleS:     300,
		RouteRefreshS:      60,
		DefaultTTL:         5,
		MaxPayload:         8192,
		DedupWindowS:       600,
		Radio:              RadioConfig{Driver: "sim", Listen: ":7373"},
	}
}

func (c *MeshConfig) validate() error {
	if c.DiscoveryIntervalS <= 0 {
		c.DiscoveryIntervalS = 30
	}
	if c.NeighborStaleS <= 0 {
		c.NeighborStaleS = 300
	}
	if c.RouteRefreshS <= 0 {
		c.RouteRefreshS = 60
	}
	if c.DefaultTTL <= 0 || c.DefaultTTL > 255 {
		c.DefaultTTL = 5
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = 8192
	}
	if c.DedupWindowS <= 0 {
		c.DedupWindowS = 600
	}
	switch c.Radio.Driver {
	case "", "sim":
		c.Radio.Driver = "sim"
	case "udp":
		if c.Radio.BridgeAddr == "" {
			return fmt.Errorf("mesh.radio.bridge_addr required for udp driver")
		}
	default:
		return fmt.Errorf("unknown mesh.radio.driver: %q", c.Radio.Driver)
	}
	return nil
}
