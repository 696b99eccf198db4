package journal

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/TysonTheNugget/sketchyflipback/internal/storage/pebble"
)

// Keyspace:
//   j/m           (meta: lastSeq)
//   j/e/{seq_be8} (entries)
var (
	keyMeta     = []byte("j/m")
	entryPrefix = []byte("j/e/")
)

func entryKey(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// Journal is an append-only record of every chain event the relay ingested,
// persisted in Pebble with big-endian sequence keys for ordered scans. It is
// a debugging and audit surface; the materialized collections do not replay
// from it.
type Journal struct {
	db *pebblestore.DB

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// Open initializes a Journal and restores the last sequence from metadata.
func Open(db *pebblestore.DB) (*Journal, error) {
	j := &Journal{db: db, notifyCh: make(chan struct{})}
	meta, err := db.Get(keyMeta)
	if err == nil && len(meta) >= 8 {
		j.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return j, nil
}

// Append writes one event payload and returns its assigned sequence. The
// entry header carries the append timestamp in milliseconds.
func (j *Journal) Append(ctx context.Context, payload []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	b := j.db.NewBatch()
	defer b.Close()

	j.lastSeq++
	seq := j.lastSeq
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(time.Now().UnixMilli()))
	if err := b.Set(entryKey(seq), EncodeRecord(header[:], payload), nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], j.lastSeq)
	if err := b.Set(keyMeta, meta[:], nil); err != nil {
		return 0, err
	}
	if err := j.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}

	close(j.notifyCh)
	j.notifyCh = make(chan struct{})
	return seq, nil
}

// Item is one journal entry.
type Item struct {
	Seq     uint64
	TsMs    int64
	Payload []byte
}

// Read returns up to limit entries with sequence >= start, in order. Corrupt
// records are skipped. limit <= 0 means no limit.
func (j *Journal) Read(start uint64, limit int) ([]Item, error) {
	low := entryKey(0)
	hi := entryKey(^uint64(0))
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []Item
	if !iter.SeekGE(entryKey(start)) {
		return items, nil
	}
	for iter.Valid() && (limit <= 0 || len(items) < limit) {
		key := iter.Key()
		seq := binary.BigEndian.Uint64(key[len(key)-8:])
		if dec, ok := DecodeRecord(iter.Value()); ok {
			var ts int64
			if len(dec.Header) >= 8 {
				ts = int64(binary.BigEndian.Uint64(dec.Header[:8]))
			}
			items = append(items, Item{Seq: seq, TsMs: ts, Payload: dec.Payload})
		}
		if !iter.Next() {
			break
		}
	}
	return items, nil
}

// LastSeq returns the most recently assigned sequence.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// WaitForAppend blocks until a new append occurs or timeout elapses.
// It returns true if woken by an append.
func (j *Journal) WaitForAppend(timeout time.Duration) bool {
	j.mu.Lock()
	ch := j.notifyCh
	j.mu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
