package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays FLIPBACK_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr("FLIPBACK_DATA_DIR", &cfg.DataDir)
	setStr("FLIPBACK_HTTP_ADDR", &cfg.HTTPAddr)
	setStr("FLIPBACK_LOG_LEVEL", &cfg.LogLevel)
	setStr("FLIPBACK_LOG_FORMAT", &cfg.LogFormat)
	if v := os.Getenv("FLIPBACK_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, p)
			}
		}
	}

	setStr("FLIPBACK_CHAIN_WS_URL", &cfg.Chain.WSURL)
	setStr("FLIPBACK_CHAIN_HTTP_URL", &cfg.Chain.HTTPURL)
	setStr("FLIPBACK_GAME_CONTRACT", &cfg.Chain.GameContract)
	setStr("FLIPBACK_NFT_CONTRACT", &cfg.Chain.NFTContract)
	setStr("FLIPBACK_POINTS_CONTRACT", &cfg.Chain.PointsContract)
	setInt("FLIPBACK_RECONNECT_DELAY_MS", &cfg.Chain.ReconnectDelayMs)
	setInt("FLIPBACK_CALL_TIMEOUT_MS", &cfg.Chain.CallTimeoutMs)

	setStr("FLIPBACK_IPFS_GATEWAY", &cfg.Assets.IPFSGateway)
	setStr("FLIPBACK_PLACEHOLDER_URL", &cfg.Assets.PlaceholderURL)
	setInt("FLIPBACK_ASSET_TIMEOUT_MS", &cfg.Assets.TimeoutMs)

	setInt("FLIPBACK_FALLBACK_ATTEMPTS", &cfg.Fallback.Attempts)
	setInt("FLIPBACK_FALLBACK_DELAY_MS", &cfg.Fallback.DelayMs)

	setInt("FLIPBACK_RESYNC_INTERVAL_MS", &cfg.ResyncIntervalMs)

	// Legacy names kept from the first deployment.
	setStr("ALCHEMY_WSS_URL", &cfg.Chain.WSURL)
	setStr("ALCHEMY_HTTP_URL", &cfg.Chain.HTTPURL)
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
}
