// Package chain reads the flip-game and points contracts over Ethereum
// JSON-RPC and decodes their events.
//
// # Overview
//
// Three pieces:
//   - a minimal ABI codec (abi.go) for the fixed set of signatures the relay
//     touches, built on keccak topic hashes and 32-byte word packing;
//   - Client, an HTTP JSON-RPC client implementing the Source read surface
//     (eth_call, eth_getLogs);
//   - Subscriber, a websocket eth_subscribe loop delivering typed Events with
//     a fixed-delay reconnect policy (no backoff ramp, infinite retry).
//
// Events missed while the subscription is down are not replayed here; the
// reconciler's resync and on-demand fallback paths recover them.
package chain
