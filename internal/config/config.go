package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env/flags.
type Config struct {
	DataDir        string   `json:"dataDir"`
	HTTPAddr       string   `json:"httpAddr"`
	LogLevel       string   `json:"logLevel"`
	LogFormat      string   `json:"logFormat"`
	AllowedOrigins []string `json:"allowedOrigins"`

	Chain    Chain    `json:"chain"`
	Assets   Assets   `json:"assets"`
	Fallback Fallback `json:"fallback"`

	// ResyncIntervalMs controls the periodic full resync against the chain's
	// open-game set. Zero disables resync.
	ResyncIntervalMs int `json:"resyncIntervalMs"`
}

// Chain configures the JSON-RPC endpoints and contract addresses.
type Chain struct {
	WSURL   string `json:"wsUrl"`
	HTTPURL string `json:"httpUrl"`

	GameContract   string `json:"gameContract"`
	NFTContract    string `json:"nftContract"`
	PointsContract string `json:"pointsContract"`

	// ReconnectDelayMs is the fixed delay between subscription reconnect
	// attempts. There is no backoff ramp; the loop retries indefinitely.
	ReconnectDelayMs int `json:"reconnectDelayMs"`
	CallTimeoutMs    int `json:"callTimeoutMs"`
}

// Assets configures display-image resolution.
type Assets struct {
	IPFSGateway    string `json:"ipfsGateway"`
	PlaceholderURL string `json:"placeholderUrl"`
	TimeoutMs      int    `json:"timeoutMs"`
}

// Fallback bounds the on-demand resolution lookup.
type Fallback struct {
	Attempts int `json:"attempts"`
	DelayMs  int `json:"delayMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:  ":10000",
		LogLevel:  "info",
		LogFormat: "text",
		AllowedOrigins: []string{
			"https://sketchyflips.vercel.app",
			"http://localhost:3000",
		},
		Chain: Chain{
			GameContract:     "0xf6b8d2E0d36669Ed82059713BDc6ACfABe11Fde6",
			NFTContract:      "0x08533a2b16e3db03eebd5b23210122f97dfcb97d",
			PointsContract:   "0xd32247484111569930a0b9c7e669e8E108392496",
			ReconnectDelayMs: 5000,
			CallTimeoutMs:    15000,
		},
		Assets: Assets{
			IPFSGateway:    "https://gateway.pinata.cloud/ipfs/",
			PlaceholderURL: "https://via.placeholder.com/64",
			TimeoutMs:      10000,
		},
		Fallback: Fallback{
			Attempts: 3,
			DelayMs:  3000,
		},
		ResyncIntervalMs: 60000,
	}
}

// Load reads configuration from a JSON file layered over Default. If path is
// empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReconnectDelay returns the subscription reconnect delay as a Duration.
func (c Chain) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// CallTimeout returns the per-call timeout as a Duration.
func (c Chain) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// Timeout returns the asset fetch timeout as a Duration.
func (a Assets) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Delay returns the inter-attempt delay as a Duration.
func (f Fallback) Delay() time.Duration {
	return time.Duration(f.DelayMs) * time.Millisecond
}

// ResyncInterval returns the resync period as a Duration.
func (c Config) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalMs) * time.Millisecond
}
