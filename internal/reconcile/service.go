package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/chain"
	"github.com/TysonTheNugget/sketchyflipback/internal/config"
	"github.com/TysonTheNugget/sketchyflipback/internal/store"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Service is the reconciliation engine. It owns the open and resolved game
// collections, the acknowledgment ledger and the leaderboard, merges chain
// events into them idempotently, and answers client requests.
//
// All collection mutations happen under mu. Chain reads and image resolution
// never run under the lock; their results merge with last-writer-wins
// overwrite semantics, so concurrent deliveries of the same fact converge.
type Service struct {
	store   *store.Store
	src     chain.Source
	images  ImageSource
	journal Recorder
	fanout  Fanout
	logger  logpkg.Logger

	attempts int
	delay    time.Duration

	// Overridden in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	open        map[string]*OpenGame
	resolved    map[string]*ResolvedGame
	ledger      map[string]map[string]bool
	leaderboard map[string]int
}

// NewService builds a Service. journal and fanout may be nil; the service
// then skips audit appends and pushes respectively.
func NewService(st *store.Store, src chain.Source, images ImageSource, cfg config.Fallback, logger logpkg.Logger) *Service {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Service{
		store:    st,
		src:      src,
		images:   images,
		logger:   logger.WithComponent("reconcile"),
		attempts: attempts,
		delay:    cfg.Delay(),
		now:      time.Now,
		sleep:    sleepCtx,
		open:        make(map[string]*OpenGame),
		resolved:    make(map[string]*ResolvedGame),
		ledger:      make(map[string]map[string]bool),
		leaderboard: make(map[string]int),
	}
}

// SetJournal attaches the audit journal.
func (s *Service) SetJournal(j Recorder) { s.journal = j }

// SetFanout attaches the push channel.
func (s *Service) SetFanout(f Fanout) { s.fanout = f }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load restores all four collections from their snapshots. Missing or
// corrupt snapshots leave the corresponding collection empty.
func (s *Service) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Load(store.KindOpenGames, &s.open)
	s.store.Load(store.KindResolvedGames, &s.resolved)

	flat := make(map[string][]string)
	s.store.Load(store.KindLedger, &flat)
	for identity, ids := range flat {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		s.ledger[normalize(identity)] = set
	}

	s.store.Load(store.KindLeaderboard, &s.leaderboard)
	if s.leaderboard == nil {
		s.leaderboard = make(map[string]int)
	}

	s.logger.Info("collections loaded",
		logpkg.Int("open", len(s.open)),
		logpkg.Int("resolved", len(s.resolved)),
		logpkg.Int("ledger_identities", len(s.ledger)))
}

// saveLedgerLocked persists the ledger as identity -> sorted id list so the
// snapshot diffs cleanly.
func (s *Service) saveLedgerLocked() {
	flat := make(map[string][]string, len(s.ledger))
	for identity, set := range s.ledger {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
		flat[identity] = ids
	}
	s.store.Save(store.KindLedger, flat)
}

func (s *Service) saveOpenLocked()     { s.store.Save(store.KindOpenGames, s.open) }
func (s *Service) saveResolvedLocked() { s.store.Save(store.KindResolvedGames, s.resolved) }

// Apply dispatches one decoded chain event into the merge operations. Every
// event is appended to the audit journal first, whether or not it changes
// state.
func (s *Service) Apply(ctx context.Context, ev chain.Event) {
	s.record(ctx, ev)
	switch ev.Kind {
	case chain.GameCreated:
		s.onGameCreated(ctx, ev)
	case chain.GameJoined:
		s.onGameJoined(ctx, ev)
	case chain.GameResolved:
		s.onGameResolved(ctx, ev)
	case chain.GameCanceled:
		s.onGameCanceled(ev.GameID)
	case chain.PointsChanged:
		s.onPointsChanged(ev)
	default:
		s.logger.Warn("unknown event kind", logpkg.Str("kind", string(ev.Kind)))
	}
}

func (s *Service) record(ctx context.Context, ev chain.Event) {
	if s.journal == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := s.journal.Append(ctx, payload); err != nil {
		s.logger.Warn("journal append failed", logpkg.Err(err))
	}
}

func (s *Service) onGameCreated(ctx context.Context, ev chain.Event) {
	id, owner := ev.GameID, normalize(ev.Player)

	s.mu.Lock()
	_, inOpen := s.open[id]
	_, inResolved := s.resolved[id]
	s.mu.Unlock()
	if inOpen || inResolved {
		return
	}

	img := s.images.DisplayImage(ctx, ev.Token1)

	s.mu.Lock()
	if _, ok := s.open[id]; ok {
		s.mu.Unlock()
		return
	}
	if _, ok := s.resolved[id]; ok {
		// Joined or resolved while we were resolving the image.
		s.mu.Unlock()
		return
	}
	s.open[id] = &OpenGame{
		ID:        id,
		Player1:   owner,
		Token1:    ev.Token1,
		Image1:    img,
		CreatedAt: strconv.FormatInt(s.now().Unix(), 10),
	}
	s.saveOpenLocked()
	snapshot := s.openSnapshotLocked()
	s.mu.Unlock()

	s.logger.Info("game created", logpkg.Str("game_id", id), logpkg.Str("player", owner))
	s.broadcast("openGames", snapshot)
}

func (s *Service) onGameJoined(ctx context.Context, ev chain.Event) {
	id, joiner := ev.GameID, normalize(ev.Player)

	s.mu.Lock()
	prior := s.open[id]
	s.mu.Unlock()

	rec := &ResolvedGame{
		ID:             id,
		Player2:        joiner,
		Token2:         ev.Token2,
		JoinedAt:       strconv.FormatInt(s.now().Unix(), 10),
		ViewedBy:       map[string]bool{},
		AcknowledgedBy: map[string]bool{},
	}
	if prior != nil {
		rec.Player1 = prior.Player1
		rec.Token1 = prior.Token1
		rec.Image1 = prior.Image1
		rec.CreatedAt = prior.CreatedAt
	} else {
		// Resync gap: the create was missed, so the creator's side comes
		// from the contract.
		g, err := s.src.Game(ctx, id)
		if err != nil {
			s.logger.Warn("join for unknown game, contract read failed",
				logpkg.Str("game_id", id), logpkg.Err(err))
			return
		}
		rec.Player1 = normalize(g.Player1)
		rec.Token1 = g.Token1
		rec.CreatedAt = g.CreatedAt
		if g.JoinedAt != "" && g.JoinedAt != "0" {
			rec.JoinedAt = g.JoinedAt
		}
		rec.Image1 = s.images.DisplayImage(ctx, g.Token1)
	}
	rec.Image2 = s.images.DisplayImage(ctx, ev.Token2)
	rec.ViewedBy = map[string]bool{rec.Player1: false, rec.Player2: false}
	rec.AcknowledgedBy = map[string]bool{rec.Player1: false, rec.Player2: false}

	s.mu.Lock()
	delete(s.open, id)
	if cur, ok := s.resolved[id]; ok && cur.Resolved {
		// A resolution landed while we were fetching; keep it.
		s.mu.Unlock()
		return
	}
	s.resolved[id] = rec
	s.saveOpenLocked()
	s.saveResolvedLocked()
	snapshot := s.openSnapshotLocked()
	out := *rec
	s.mu.Unlock()

	s.logger.Info("game joined", logpkg.Str("game_id", id), logpkg.Str("player", joiner))
	s.broadcast("openGames", snapshot)
	s.sendTo(out.Player1, "gameJoined", out)
	s.sendTo(out.Player2, "gameJoined", out)
}

func (s *Service) onGameResolved(ctx context.Context, ev chain.Event) {
	id, winner := ev.GameID, normalize(ev.Winner)

	s.mu.Lock()
	cur, ok := s.resolved[id]
	s.mu.Unlock()
	if !ok {
		// Resync gap: synthesize the whole record from the contract.
		rec, err := s.fetchResolvedGame(ctx, id, winner)
		if err != nil {
			s.logger.Warn("resolution for unknown game, contract read failed",
				logpkg.Str("game_id", id), logpkg.Err(err))
			return
		}
		s.mergeResolved(rec)
		return
	}

	// Refresh display assets outside the lock; the token ids are immutable
	// once set so reading them from the stale copy is safe.
	img1 := s.images.DisplayImage(ctx, cur.Token1)
	var img2 string
	if cur.Token2 != "" {
		img2 = s.images.DisplayImage(ctx, cur.Token2)
	}

	s.mu.Lock()
	cur, ok = s.resolved[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	first := !cur.Resolved
	cur.Resolved = true
	cur.Winner = winner
	cur.Image1 = img1
	if img2 != "" {
		cur.Image2 = img2
	}
	// New fact, both sides need to see it again. The ledger is untouched.
	// Rebuilt from the participants so a snapshot that lost the map still
	// gets both flags.
	cur.ViewedBy = map[string]bool{cur.Player1: false}
	if cur.Player2 != "" {
		cur.ViewedBy[cur.Player2] = false
	}
	if first && winner != "" {
		s.leaderboard[winner]++
		s.store.Save(store.KindLeaderboard, s.leaderboard)
	}
	s.saveResolvedLocked()
	out := *cur
	board := s.leaderboardLocked()
	s.mu.Unlock()

	s.logger.Info("game resolved", logpkg.Str("game_id", id), logpkg.Str("winner", winner))
	s.sendTo(out.Player1, "gameResolved", out)
	s.sendTo(out.Player2, "gameResolved", out)
	if first {
		s.broadcast("leaderboard", board)
	}
}

// mergeResolved overwrites the stored record for rec.ID with rec,
// last-writer-wins. Used by the resync-gap path and the on-demand fallback.
func (s *Service) mergeResolved(rec *ResolvedGame) {
	s.mu.Lock()
	prevResolved := false
	if cur, ok := s.resolved[rec.ID]; ok {
		prevResolved = cur.Resolved
	}
	delete(s.open, rec.ID)
	s.resolved[rec.ID] = rec
	first := rec.Resolved && !prevResolved
	if first && rec.Winner != "" {
		s.leaderboard[rec.Winner]++
		s.store.Save(store.KindLeaderboard, s.leaderboard)
	}
	s.saveOpenLocked()
	s.saveResolvedLocked()
	snapshot := s.openSnapshotLocked()
	out := *rec
	board := s.leaderboardLocked()
	s.mu.Unlock()

	s.broadcast("openGames", snapshot)
	if rec.Resolved {
		s.sendTo(out.Player1, "gameResolved", out)
		s.sendTo(out.Player2, "gameResolved", out)
		if first {
			s.broadcast("leaderboard", board)
		}
	}
}

func (s *Service) onGameCanceled(id string) {
	s.mu.Lock()
	_, hadOpen := s.open[id]
	_, hadResolved := s.resolved[id]
	delete(s.open, id)
	delete(s.resolved, id)
	if hadOpen {
		s.saveOpenLocked()
	}
	if hadResolved {
		s.saveResolvedLocked()
	}
	snapshot := s.openSnapshotLocked()
	s.mu.Unlock()

	if hadOpen || hadResolved {
		s.logger.Info("game canceled", logpkg.Str("game_id", id))
		s.broadcast("openGames", snapshot)
	}
}

func (s *Service) onPointsChanged(ev chain.Event) {
	identity := normalize(ev.Identity)
	if identity == "" {
		return
	}
	s.sendTo(identity, "pointsChanged", map[string]string{"reason": ev.Reason})
}

// fetchResolvedGame builds a full ResolvedGame from contract state for a
// game whose lifecycle events were missed.
func (s *Service) fetchResolvedGame(ctx context.Context, id, winner string) (*ResolvedGame, error) {
	g, err := s.src.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	p1, p2 := normalize(g.Player1), normalize(g.Player2)
	rec := &ResolvedGame{
		ID:        id,
		Player1:   p1,
		Token1:    g.Token1,
		Image1:    s.images.DisplayImage(ctx, g.Token1),
		Resolved:  winner != "",
		Winner:    winner,
		JoinedAt:  g.JoinedAt,
		CreatedAt: g.CreatedAt,
		ViewedBy:  map[string]bool{p1: false},
		AcknowledgedBy: map[string]bool{
			p1: false,
		},
	}
	if g.HasOpponent() {
		rec.Player2 = p2
		rec.Token2 = g.Token2
		rec.Image2 = s.images.DisplayImage(ctx, g.Token2)
		rec.ViewedBy[p2] = false
		rec.AcknowledgedBy[p2] = false
	}
	return rec, nil
}

// OpenSnapshot returns the open games ordered by ascending game id.
func (s *Service) OpenSnapshot() []OpenGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openSnapshotLocked()
}

func (s *Service) openSnapshotLocked() []OpenGame {
	out := make([]OpenGame, 0, len(s.open))
	for _, g := range s.open {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// VisibleBacklog returns the resolved games the identity participates in and
// has not yet recorded in its acknowledgment ledger, ordered by ascending
// game id.
func (s *Service) VisibleBacklog(identity string) []ResolvedGame {
	identity = normalize(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	acked := s.ledger[identity]
	out := make([]ResolvedGame, 0)
	for id, g := range s.resolved {
		if !g.Resolved || !g.Participant(identity) || acked[id] {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// Acknowledge marks the game consumed by the identity: both per-game flags
// are set and the id joins the identity's ledger set, excluding it from all
// future backlogs.
func (s *Service) Acknowledge(identity, id string) {
	s.AcknowledgeBatch(identity, []string{id})
}

// AcknowledgeBatch acknowledges several games in one persist.
func (s *Service) AcknowledgeBatch(identity string, ids []string) {
	identity = normalize(identity)
	if identity == "" || len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.ledger[identity]
	if set == nil {
		set = make(map[string]bool)
		s.ledger[identity] = set
	}
	touched := false
	for _, id := range ids {
		if g, ok := s.resolved[id]; ok {
			if g.ViewedBy == nil {
				g.ViewedBy = map[string]bool{}
			}
			if g.AcknowledgedBy == nil {
				g.AcknowledgedBy = map[string]bool{}
			}
			g.ViewedBy[identity] = true
			g.AcknowledgedBy[identity] = true
			touched = true
		}
		set[id] = true
	}
	s.saveLedgerLocked()
	if touched {
		s.saveResolvedLocked()
	}
}

// IsAcknowledged reports ledger membership.
func (s *Service) IsAcknowledged(identity, id string) bool {
	identity = normalize(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger[identity][id]
}

// MarkViewed sets only the viewed flag for the identity on each game. The
// ledger is not touched, so the games stay in the backlog until acknowledged.
func (s *Service) MarkViewed(identity string, ids []string) {
	identity = normalize(identity)
	if identity == "" || len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := false
	for _, id := range ids {
		if g, ok := s.resolved[id]; ok {
			if g.ViewedBy == nil {
				g.ViewedBy = map[string]bool{}
			}
			g.ViewedBy[identity] = true
			touched = true
		}
	}
	if touched {
		s.saveResolvedLocked()
	}
}

// Remove deletes a resolved record at the identity's request and records the
// id in its ledger so a later re-synthesis of the record stays hidden.
func (s *Service) Remove(identity, id string) {
	identity = normalize(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resolved[id]; ok {
		delete(s.resolved, id)
		s.saveResolvedLocked()
	}
	if identity != "" {
		set := s.ledger[identity]
		if set == nil {
			set = make(map[string]bool)
			s.ledger[identity] = set
		}
		set[id] = true
		s.saveLedgerLocked()
	}
}

// RequestResolution is the on-demand fallback for a game the event stream
// has not settled yet. It reads the contract directly, retrying a bounded
// number of times while the game is neither resolved nor canceled, and on
// success inserts the record (last-writer-wins) and marks it viewed and
// ledger-acknowledged for the requester.
func (s *Service) RequestResolution(ctx context.Context, id, identity string) (ResolvedGame, error) {
	identity = normalize(identity)

	s.mu.Lock()
	if cur, ok := s.resolved[id]; ok && cur.Resolved {
		out := *cur
		s.mu.Unlock()
		if !out.Participant(identity) {
			return ResolvedGame{}, ErrNotAuthorized
		}
		s.Acknowledge(identity, id)
		return out, nil
	}
	s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		g, err := s.src.Game(ctx, id)
		if err != nil {
			if errors.Is(err, chain.ErrNotFound) {
				return ResolvedGame{}, ErrNotAuthorized
			}
			return ResolvedGame{}, err
		}
		if normalize(g.Player1) != identity && normalize(g.Player2) != identity {
			return ResolvedGame{}, ErrNotAuthorized
		}
		if !g.HasOpponent() {
			return ResolvedGame{}, ErrNotJoined
		}

		outcome, err := s.src.Outcome(ctx, id)
		if err != nil {
			return ResolvedGame{}, err
		}
		switch {
		case outcome.Canceled:
			s.onGameCanceled(id)
			return ResolvedGame{}, ErrCanceled
		case outcome.Resolved:
			rec, err := s.fetchResolvedGame(ctx, id, normalize(outcome.Winner))
			if err != nil {
				return ResolvedGame{}, err
			}
			s.mergeResolved(rec)
			s.Acknowledge(identity, id)
			out := *rec
			s.mu.Lock()
			if cur, ok := s.resolved[id]; ok {
				out = *cur
			}
			s.mu.Unlock()
			return out, nil
		}

		if attempt >= s.attempts {
			return ResolvedGame{}, ErrNotYetResolved
		}
		s.logger.Debug("resolution not settled, retrying",
			logpkg.Str("game_id", id), logpkg.Int("attempt", attempt))
		if err := s.sleep(ctx, s.delay); err != nil {
			return ResolvedGame{}, err
		}
	}
}

// Leaderboard returns win counts ordered by wins descending, address
// ascending.
func (s *Service) Leaderboard() []LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

func (s *Service) leaderboardLocked() []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(s.leaderboard))
	for addr, wins := range s.leaderboard {
		out = append(out, LeaderboardEntry{Address: addr, Wins: wins})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Resync polls the contract's open-game set and folds anything memory is
// missing through the same merge paths the event stream uses. It closes the
// gaps left by subscription downtime.
func (s *Service) Resync(ctx context.Context) error {
	ids, err := s.src.OpenGameIDs(ctx)
	if err != nil {
		return err
	}
	onChain := make(map[string]bool, len(ids))
	for _, id := range ids {
		onChain[id] = true
	}

	s.mu.Lock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.open[id]; ok {
			continue
		}
		if _, ok := s.resolved[id]; ok {
			continue
		}
		missing = append(missing, id)
	}
	var stale []string
	for id := range s.open {
		if !onChain[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range missing {
		g, err := s.src.Game(ctx, id)
		if err != nil {
			s.logger.Warn("resync game read failed", logpkg.Str("game_id", id), logpkg.Err(err))
			continue
		}
		s.Apply(ctx, chain.Event{
			Kind: chain.GameCreated, GameID: id,
			Player: g.Player1, Token1: g.Token1,
		})
	}

	// Open in memory but gone from the chain's open set: the game was
	// joined, resolved or canceled while we were away.
	for _, id := range stale {
		g, err := s.src.Game(ctx, id)
		if err != nil {
			if errors.Is(err, chain.ErrNotFound) {
				s.onGameCanceled(id)
			}
			continue
		}
		if g.HasOpponent() {
			s.Apply(ctx, chain.Event{
				Kind: chain.GameJoined, GameID: id,
				Player: g.Player2, Token2: g.Token2,
			})
			continue
		}
		outcome, err := s.src.Outcome(ctx, id)
		if err != nil {
			continue
		}
		if outcome.Canceled {
			s.onGameCanceled(id)
		}
	}

	if len(missing) > 0 || len(stale) > 0 {
		s.logger.Info("resync applied",
			logpkg.Int("missing", len(missing)), logpkg.Int("stale", len(stale)))
	}
	return nil
}

// RunResync runs Resync on a fixed interval until ctx is canceled.
func (s *Service) RunResync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Resync(ctx); err != nil {
				s.logger.Warn("resync failed", logpkg.Err(err))
			}
		}
	}
}

func (s *Service) broadcast(typ string, data any) {
	if s.fanout != nil {
		s.fanout.Broadcast(typ, data)
	}
}

func (s *Service) sendTo(identity, typ string, data any) {
	if s.fanout != nil && identity != "" {
		s.fanout.SendTo(identity, typ, data)
	}
}
