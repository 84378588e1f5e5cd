package config

import "fmt"

// LayersConfig holds per-transport driver settings.
type LayersConfig struct {
	Internet   InternetConfig   `mapstructure:"internet"`
	SMS        SMSConfig        `mapstructure:"sms"`
	ShortRange ShortRangeConfig `mapstructure:"short_range"`
}

// InternetConfig parameterizes the HTTP peer sender and reachability probe.
type InternetConfig struct {
	Enable bool `mapstructure:"enable"`
	// ProbeURL is fetched to decide internet availability. Empty falls back
	// to the first peer's URL.
	ProbeURL string `mapstructure:"probe_url"`
	// TimeoutMS bounds both probe and send requests.
	TimeoutMS int `mapstructure:"timeout_ms"`
	// Peers is the registry of known internet-capable peers.
	Peers []InternetPeer `mapstructure:"peers"`
}

// InternetPeer names a remote endpoint messages can be POSTed to.
type InternetPeer struct {
	Name         string   `mapstructure:"name"`
	URL          string   `mapstructure:"url"`
	Capabilities []string `mapstructure:"capabilities"`
}

// SMSConfig parameterizes the SMS modem driver.
type SMSConfig struct {
	Enable bool `mapstructure:"enable"`
	// Driver: "sim" (in-memory modem) or "gateway" (HTTP SMS gateway).
	Driver string `mapstructure:"driver"`
	// GatewayURL receives POSTed messages for the gateway driver.
	GatewayURL string `mapstructure:"gateway_url"`
	// GatewayToken is sent as a bearer token when non-empty.
	GatewayToken string `mapstructure:"gateway_token"`
	// RatePerMin shapes outbound SMS; modems throttle hard.
	RatePerMin int `mapstructure:"rate_per_min"`
	// TimeoutMS bounds a single send.
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// ShortRangeConfig parameterizes the short-range driver.
type ShortRangeConfig struct {
	Enable bool `mapstructure:"enable"`
	// Driver: "sim" (in-process loopback) or "udp" (LAN datagram peer).
	Driver string `mapstructure:"driver"`
	// Listen is the local UDP address for the udp driver.
	Listen string `mapstructure:"listen"`
	// PeerAddr is the remote UDP address for the udp driver.
	PeerAddr string `mapstructure:"peer_addr"`
}

// DefaultLayers returns layer driver defaults. Only SMS and short-range are
// enabled out of the box; internet requires configured peers.
func DefaultLayers() LayersConfig {
	return LayersConfig{
		Internet:   InternetConfig{Enable: false, TimeoutMS: 5000},
		SMS:        SMSConfig{Enable: true, Driver: "sim", RatePerMin: 10, TimeoutMS: 10000},
		ShortRange: ShortRangeConfig{Enable: true, Driver: "sim", Listen: ":7374"},
	}
}

func (c *LayersConfig) validate() error {
	if c.Internet.TimeoutMS <= 0 {
		c.Internet.TimeoutMS = 5000
	}
	if c.Internet.Enable && len(c.Internet.Peers) == 0 && c.Internet.ProbeURL == "" {
		return fmt.Errorf("layers.internet enabled but no peers or probe_url configured")
	}
	switch c.SMS.Driver {
	case "", "sim":
		c.SMS.Driver = "sim"
	case "gateway":
		if c.SMS.GatewayURL == "" {
			return fmt.Errorf("layers.sms.gateway_url required for gateway driver")
		}
	default:
		return fmt.Errorf("unknown layers.sms.driver: %q", c.SMS.Driver)
	}
	if c.SMS.RatePerMin <= 0 {
		c.SMS.RatePerMin = 10
	}
	if c.SMS.TimeoutMS <= 0 {
		c.SMS.TimeoutMS = 10000
	}
	switch c.ShortRange.Driver {
	case "", "sim":
		c.ShortRange.Driver = "sim"
	case "udp":
		if c.ShortRange.PeerAddr == "" {
			return fmt.Errorf("layers.short_range.peer_addr required for udp driver")
		}
	default:
		return fmt.Errorf("unknown layers.short_range.driver: %q", c.ShortRange.Driver)
	}
	return nil
}
