package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Kind names one persisted collection. Each kind lives in its own snapshot
// file and is saved independently; there is no cross-file transaction.
type Kind string

const (
	KindOpenGames     Kind = "open_games"
	KindResolvedGames Kind = "resolved_games"
	KindLedger        Kind = "ledger"
	KindLeaderboard   Kind = "leaderboard"
)

// schemaVersion is written into every snapshot envelope.
const schemaVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Store persists collections as human-diffable JSON snapshots, one file per
// kind, fully overwritten on every save. A crash between a mutation and its
// save loses only that mutation; callers tolerate this.
type Store struct {
	dir    string
	logger logpkg.Logger
}

// Open ensures dir exists and is writable. This is the only fatal condition
// in the persistence layer; everything later degrades to logging.
func Open(dir string, logger logpkg.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("store: %s not writable: %w", dir, err)
	}
	os.Remove(probe)
	return &Store{dir: dir, logger: logger.WithComponent("store")}, nil
}

func (s *Store) path(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

// Load reads the last persisted snapshot for kind into v. A missing file or
// a parse failure leaves v untouched (the caller's empty collection stands);
// parse failures are logged at warning level and are never fatal.
func (s *Store) Load(kind Kind, v any) {
	b, err := os.ReadFile(s.path(kind))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("snapshot read failed", logpkg.Str("kind", string(kind)), logpkg.Err(err))
		}
		return
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		s.logger.Warn("snapshot malformed, starting empty",
			logpkg.Str("kind", string(kind)), logpkg.Err(err))
		return
	}
	if env.Version < 1 || env.Version > schemaVersion {
		s.logger.Warn("snapshot has unsupported version, starting empty",
			logpkg.Str("kind", string(kind)), logpkg.Int("version", env.Version))
		return
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.logger.Warn("snapshot malformed, starting empty",
			logpkg.Str("kind", string(kind)), logpkg.Err(err))
	}
}

// Save overwrites kind's snapshot with v. Failures are logged and do not
// interrupt the caller; in-memory state remains the source of truth.
func (s *Store) Save(kind Kind, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("snapshot marshal failed", logpkg.Str("kind", string(kind)), logpkg.Err(err))
		return
	}
	b, err := json.MarshalIndent(envelope{Version: schemaVersion, Data: data}, "", "  ")
	if err != nil {
		s.logger.Error("snapshot marshal failed", logpkg.Str("kind", string(kind)), logpkg.Err(err))
		return
	}
	if err := os.WriteFile(s.path(kind), b, 0o644); err != nil {
		s.logger.Error("snapshot write failed", logpkg.Str("kind", string(kind)), logpkg.Err(err))
	}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }
