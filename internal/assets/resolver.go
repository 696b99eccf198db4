package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/config"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// TokenURISource reads a token's metadata URI from the NFT contract.
type TokenURISource interface {
	TokenURI(ctx context.Context, tokenID string) (string, error)
}

// Resolver turns token ids into display-image URLs. Resolution is strictly
// best-effort: any failure yields the configured placeholder URL, never an
// error. Successful lookups are cached per token id for the process lifetime.
type Resolver struct {
	src         TokenURISource
	hc          *http.Client
	gateway     string
	placeholder string
	logger      logpkg.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver builds a Resolver from assets configuration.
func NewResolver(src TokenURISource, cfg config.Assets, logger logpkg.Logger) *Resolver {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		src:         src,
		hc:          &http.Client{Timeout: timeout},
		gateway:     cfg.IPFSGateway,
		placeholder: cfg.PlaceholderURL,
		logger:      logger.WithComponent("assets"),
		cache:       make(map[string]string),
	}
}

// DisplayImage resolves the image URL for a token, returning the placeholder
// on any failure.
func (r *Resolver) DisplayImage(ctx context.Context, tokenID string) string {
	r.mu.Lock()
	if img, ok := r.cache[tokenID]; ok {
		r.mu.Unlock()
		return img
	}
	r.mu.Unlock()

	img, err := r.resolve(ctx, tokenID)
	if err != nil {
		r.logger.Warn("image resolution failed",
			logpkg.Str("token_id", tokenID), logpkg.Err(err))
		return r.placeholder
	}

	r.mu.Lock()
	r.cache[tokenID] = img
	r.mu.Unlock()
	return img
}

func (r *Resolver) resolve(ctx context.Context, tokenID string) (string, error) {
	uri, err := r.src.TokenURI(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("tokenURI: %w", err)
	}
	uri = r.rewriteIPFS(uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch metadata: status %s", resp.Status)
	}

	var meta struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Image == "" {
		return "", fmt.Errorf("metadata has no image")
	}
	return r.rewriteIPFS(meta.Image), nil
}

// rewriteIPFS maps ipfs:// URIs onto the configured HTTP gateway.
func (r *Resolver) rewriteIPFS(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return r.gateway + rest
	}
	return uri
}

// Placeholder returns the configured placeholder URL.
func (r *Resolver) Placeholder() string { return r.placeholder }
