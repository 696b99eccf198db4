// Package pebblestore wraps a Pebble database with the fsync policy and the
// minimal helper surface used by the event journal.
package pebblestore
