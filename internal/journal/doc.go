// Package journal implements a Pebble-backed append-only record of ingested
// chain events.
//
// # Overview
//
// Every event the reconciler applies is appended here with a millisecond
// timestamp header. Entries are framed as
// varint headerLen | header | payload | crc32c and keyed by a big-endian
// sequence for ordered scans. The journal is an audit/debug surface tailed
// by the HTTP event stream (optionally through a CEL Filter); the relay's
// materialized state does not replay from it.
package journal
