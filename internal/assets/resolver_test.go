package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TysonTheNugget/sketchyflipback/internal/config"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

type uriFunc func(ctx context.Context, tokenID string) (string, error)

func (f uriFunc) TokenURI(ctx context.Context, tokenID string) (string, error) {
	return f(ctx, tokenID)
}

func testCfg(gateway string) config.Assets {
	return config.Assets{
		IPFSGateway:    gateway,
		PlaceholderURL: "https://placeholder.example/64",
		TimeoutMs:      2000,
	}
}

func TestDisplayImageResolvesAndRewrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"image":"ipfs://QmImage"}`)
	}))
	t.Cleanup(srv.Close)

	calls := 0
	src := uriFunc(func(ctx context.Context, tokenID string) (string, error) {
		calls++
		return srv.URL + "/meta/" + tokenID, nil
	})
	r := NewResolver(src, testCfg("https://gw.example/ipfs/"), logpkg.NewNop())

	img := r.DisplayImage(context.Background(), "5")
	if img != "https://gw.example/ipfs/QmImage" {
		t.Fatalf("image = %q", img)
	}

	// second lookup is served from cache
	if got := r.DisplayImage(context.Background(), "5"); got != img {
		t.Fatalf("cached image = %q", got)
	}
	if calls != 1 {
		t.Fatalf("tokenURI called %d times, want 1", calls)
	}
}

func TestDisplayImageRewritesIPFSTokenURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/QmMeta" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"image":"https://img.example/5.png"}`)
	}))
	t.Cleanup(srv.Close)

	src := uriFunc(func(ctx context.Context, tokenID string) (string, error) {
		return "ipfs://QmMeta", nil
	})
	r := NewResolver(src, testCfg(srv.URL+"/ipfs/"), logpkg.NewNop())
	if img := r.DisplayImage(context.Background(), "5"); img != "https://img.example/5.png" {
		t.Fatalf("image = %q", img)
	}
}

func TestDisplayImagePlaceholderOnSourceError(t *testing.T) {
	src := uriFunc(func(ctx context.Context, tokenID string) (string, error) {
		return "", errors.New("rpc down")
	})
	r := NewResolver(src, testCfg("https://gw.example/ipfs/"), logpkg.NewNop())
	if img := r.DisplayImage(context.Background(), "5"); img != r.Placeholder() {
		t.Fatalf("image = %q, want placeholder", img)
	}
}

func TestDisplayImagePlaceholderOnBadMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"no image"}`)
	}))
	t.Cleanup(srv.Close)
	src := uriFunc(func(ctx context.Context, tokenID string) (string, error) {
		return srv.URL, nil
	})
	r := NewResolver(src, testCfg("https://gw.example/ipfs/"), logpkg.NewNop())
	if img := r.DisplayImage(context.Background(), "5"); img != r.Placeholder() {
		t.Fatalf("image = %q, want placeholder", img)
	}
}

func TestDisplayImagePlaceholderOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	src := uriFunc(func(ctx context.Context, tokenID string) (string, error) {
		return srv.URL, nil
	})
	r := NewResolver(src, testCfg("https://gw.example/ipfs/"), logpkg.NewNop())
	if img := r.DisplayImage(context.Background(), "9"); img != r.Placeholder() {
		t.Fatalf("image = %q, want placeholder", img)
	}
}
