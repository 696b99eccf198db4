// Package assets resolves NFT display images: tokenURI, IPFS gateway
// rewrite, metadata fetch, then the image field. Best-effort by contract;
// every failure path yields the placeholder URL.
package assets
