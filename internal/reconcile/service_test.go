package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/chain"
	"github.com/TysonTheNugget/sketchyflipback/internal/config"
	"github.com/TysonTheNugget/sketchyflipback/internal/store"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

type fakeSource struct {
	mu       sync.Mutex
	games    map[string]chain.Game
	outcomes map[string]chain.Outcome
	open     []string
	profiles map[string]chain.PointsProfile

	gameReads    int
	outcomeReads int
}

func (f *fakeSource) Game(_ context.Context, id string) (chain.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameReads++
	g, ok := f.games[id]
	if !ok {
		return chain.Game{}, chain.ErrNotFound
	}
	return g, nil
}

func (f *fakeSource) OpenGameIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.open...), nil
}

func (f *fakeSource) Outcome(_ context.Context, id string) (chain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomeReads++
	return f.outcomes[id], nil
}

func (f *fakeSource) PointsProfile(_ context.Context, identity string) (chain.PointsProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[identity]
	if !ok {
		return chain.PointsProfile{}, errors.New("no profile")
	}
	return p, nil
}

type fakeImages struct{}

func (fakeImages) DisplayImage(_ context.Context, tokenID string) string {
	return "img://" + tokenID
}

type sentMessage struct {
	Identity string
	Type     string
}

type fakeFanout struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeFanout) Broadcast(typ string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Type: typ})
}

func (f *fakeFanout) SendTo(identity, typ string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Identity: identity, Type: typ})
}

func (f *fakeFanout) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, src *fakeSource) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir, logpkg.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if src.games == nil {
		src.games = map[string]chain.Game{}
	}
	if src.outcomes == nil {
		src.outcomes = map[string]chain.Outcome{}
	}
	svc := NewService(st, src, fakeImages{}, config.Fallback{Attempts: 3, DelayMs: 1}, logpkg.NewNop())
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	svc.Load()
	return svc, dir
}

func backlogIDs(games []ResolvedGame) []string {
	ids := make([]string, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.ID)
	}
	return ids
}

func TestGameLifecycle(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "7", Player: "0xAAA", Token1: "1"})
	open := svc.OpenSnapshot()
	if len(open) != 1 || open[0].ID != "7" {
		t.Fatalf("open snapshot = %+v, want exactly game 7", open)
	}
	if open[0].Player1 != "0xaaa" {
		t.Fatalf("owner not normalized: %q", open[0].Player1)
	}
	if open[0].Image1 != "img://1" {
		t.Fatalf("image not resolved: %q", open[0].Image1)
	}

	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "7", Player: "0xBBB", Token2: "2"})
	if len(svc.OpenSnapshot()) != 0 {
		t.Fatal("open set not emptied after join")
	}
	svc.mu.Lock()
	rec := svc.resolved["7"]
	svc.mu.Unlock()
	if rec == nil || rec.Resolved {
		t.Fatalf("resolved record after join = %+v, want unresolved", rec)
	}
	if rec.Player1 != "0xaaa" || rec.Player2 != "0xbbb" {
		t.Fatalf("participants = %q/%q", rec.Player1, rec.Player2)
	}

	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "7", Winner: "0xAAA"})
	svc.mu.Lock()
	rec = svc.resolved["7"]
	svc.mu.Unlock()
	if !rec.Resolved || rec.Winner != "0xaaa" {
		t.Fatalf("after resolve: %+v", rec)
	}
	if rec.ViewedBy["0xaaa"] || rec.ViewedBy["0xbbb"] {
		t.Fatal("viewed flags must reset on resolution")
	}

	got := backlogIDs(svc.VisibleBacklog("0xBBB"))
	if len(got) != 1 || got[0] != "7" {
		t.Fatalf("backlog(B) = %v, want [7]", got)
	}
	svc.Acknowledge("0xBBB", "7")
	if got := svc.VisibleBacklog("0xBBB"); len(got) != 0 {
		t.Fatalf("backlog(B) after acknowledge = %v, want empty", backlogIDs(got))
	}
}

func TestApplyWithoutLoad(t *testing.T) {
	// A fresh service must take events before Load has run.
	st, err := store.Open(t.TempDir(), logpkg.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := NewService(st, &fakeSource{}, fakeImages{}, config.Fallback{Attempts: 1, DelayMs: 1}, logpkg.NewNop())
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "1", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "1", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "1", Winner: "0xb"})
	board := svc.Leaderboard()
	if len(board) != 1 || board[0].Address != "0xb" || board[0].Wins != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}
}

func TestResolveRebuildsViewedFlags(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "18", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "18", Player: "0xb", Token2: "2"})

	// A hand-edited or truncated snapshot can round-trip the flag maps to
	// nil; resolution still has to flag both participants.
	svc.mu.Lock()
	svc.resolved["18"].ViewedBy = nil
	svc.mu.Unlock()

	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "18", Winner: "0xa"})
	svc.mu.Lock()
	rec := svc.resolved["18"]
	svc.mu.Unlock()
	if len(rec.ViewedBy) != 2 {
		t.Fatalf("viewedBy = %v, want both participants", rec.ViewedBy)
	}
	if v, ok := rec.ViewedBy["0xa"]; !ok || v {
		t.Fatalf("viewedBy[a] = %v,%v, want false entry", v, ok)
	}
	if v, ok := rec.ViewedBy["0xb"]; !ok || v {
		t.Fatalf("viewedBy[b] = %v,%v, want false entry", v, ok)
	}
}

func TestCreateDuplicateIsNoOp(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	ev := chain.Event{Kind: chain.GameCreated, GameID: "1", Player: "0xa", Token1: "9"}
	svc.Apply(ctx, ev)
	svc.Apply(ctx, ev)
	if n := len(svc.OpenSnapshot()); n != 1 {
		t.Fatalf("open games = %d, want 1", n)
	}
}

func TestCreateAfterJoinIsNoOp(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "1", Player: "0xa", Token1: "9"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "1", Player: "0xb", Token2: "8"})
	// Late redelivery of the create must not resurrect the open record.
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "1", Player: "0xa", Token1: "9"})
	if n := len(svc.OpenSnapshot()); n != 0 {
		t.Fatalf("open games = %d, want 0", n)
	}
}

func TestResolveIdempotent(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	fan := &fakeFanout{}
	svc.SetFanout(fan)
	ctx := context.Background()

	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "3", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "3", Player: "0xb", Token2: "2"})
	resolve := chain.Event{Kind: chain.GameResolved, GameID: "3", Winner: "0xa"}
	svc.Apply(ctx, resolve)
	svc.mu.Lock()
	first := *svc.resolved["3"]
	svc.mu.Unlock()

	svc.Apply(ctx, resolve)
	svc.mu.Lock()
	second := *svc.resolved["3"]
	svc.mu.Unlock()

	if first.Winner != second.Winner || first.Resolved != second.Resolved {
		t.Fatalf("state changed on redelivery: %+v vs %+v", first, second)
	}
	board := svc.Leaderboard()
	if len(board) != 1 || board[0].Wins != 1 {
		t.Fatalf("leaderboard = %+v, want one win for 0xa", board)
	}
	if n := fan.count("leaderboard"); n != 1 {
		t.Fatalf("leaderboard broadcast %d times, want 1", n)
	}
}

func TestReorderConvergence(t *testing.T) {
	// Path one: joined then resolved via the stream.
	svcA, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svcA.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "5", Player: "0xa", Token1: "1"})
	svcA.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "5", Player: "0xb", Token2: "2"})
	svcA.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "5", Winner: "0xb"})

	// Path two: the stream was down; the fallback synthesizes the record.
	src := &fakeSource{
		games: map[string]chain.Game{
			"5": {ID: "5", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
		outcomes: map[string]chain.Outcome{
			"5": {Resolved: true, Winner: "0xb"},
		},
	}
	svcB, _ := newTestService(t, src)
	got, err := svcB.RequestResolution(ctx, "5", "0xa")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}

	svcA.mu.Lock()
	want := *svcA.resolved["5"]
	svcA.mu.Unlock()
	if got.Winner != want.Winner || got.Resolved != want.Resolved ||
		got.Player1 != want.Player1 || got.Player2 != want.Player2 ||
		got.Image1 != want.Image1 || got.Image2 != want.Image2 {
		t.Fatalf("paths diverged:\nstream:   %+v\nfallback: %+v", want, got)
	}
}

func TestLedgerMonotonic(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "4", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "4", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "4", Winner: "0xa"})
	svc.Acknowledge("0xb", "4")

	// A further resolution fact rewrites the record and resets viewed flags,
	// but must not bring the game back into b's backlog.
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "4", Winner: "0xa"})
	if got := svc.VisibleBacklog("0xb"); len(got) != 0 {
		t.Fatalf("backlog = %v after acknowledge, want empty", backlogIDs(got))
	}
	if !svc.IsAcknowledged("0xB", "4") {
		t.Fatal("ledger lookup must be case-insensitive")
	}
}

func TestMarkViewedKeepsBacklog(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "2", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "2", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "2", Winner: "0xb"})

	svc.MarkViewed("0xa", []string{"2"})
	svc.mu.Lock()
	viewed := svc.resolved["2"].ViewedBy["0xa"]
	svc.mu.Unlock()
	if !viewed {
		t.Fatal("viewed flag not set")
	}
	if got := svc.VisibleBacklog("0xa"); len(got) != 1 {
		t.Fatalf("backlog = %v, want game still present", backlogIDs(got))
	}
}

func TestRemoveExcludesForever(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"6": {ID: "6", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
		outcomes: map[string]chain.Outcome{"6": {Resolved: true, Winner: "0xa"}},
	}
	svc, _ := newTestService(t, src)
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "6", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "6", Winner: "0xa"})

	svc.Remove("0xb", "6")
	svc.mu.Lock()
	_, exists := svc.resolved["6"]
	svc.mu.Unlock()
	if exists {
		t.Fatal("record not deleted")
	}
	// The record can be rebuilt by a redelivered event, but b removed it.
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "6", Winner: "0xa"})
	if got := svc.VisibleBacklog("0xb"); len(got) != 0 {
		t.Fatalf("backlog(b) = %v after remove, want empty", backlogIDs(got))
	}
	if got := svc.VisibleBacklog("0xa"); len(got) != 1 {
		t.Fatalf("backlog(a) = %v, want the rebuilt record", backlogIDs(got))
	}
}

func TestCanceledRemovesEverywhere(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "8", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameCanceled, GameID: "8"})
	if n := len(svc.OpenSnapshot()); n != 0 {
		t.Fatalf("open games = %d after cancel, want 0", n)
	}
	svc.mu.Lock()
	_, exists := svc.resolved["8"]
	svc.mu.Unlock()
	if exists {
		t.Fatal("canceled game left in resolved collection")
	}
}

func TestBacklogOrderedByID(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()
	for _, id := range []string{"10", "2", "7"} {
		svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: id, Player: "0xa", Token1: "1"})
		svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: id, Player: "0xb", Token2: "2"})
		svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: id, Winner: "0xa"})
	}
	got := backlogIDs(svc.VisibleBacklog("0xa"))
	want := []string{"2", "7", "10"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backlog order = %v, want %v", got, want)
		}
	}
}

func TestRestartDurability(t *testing.T) {
	src := &fakeSource{}
	dir := t.TempDir()
	st, err := store.Open(dir, logpkg.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.Fallback{Attempts: 3, DelayMs: 1}
	svc := NewService(st, src, fakeImages{}, cfg, logpkg.NewNop())
	svc.Load()
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "11", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "11", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "11", Winner: "0xb"})
	svc.Acknowledge("0xb", "11")
	before := backlogIDs(svc.VisibleBacklog("0xa"))

	st2, err := store.Open(dir, logpkg.NewNop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	svc2 := NewService(st2, src, fakeImages{}, cfg, logpkg.NewNop())
	svc2.Load()
	after := backlogIDs(svc2.VisibleBacklog("0xa"))
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("backlog changed across restart: %v vs %v", before, after)
	}
	if got := svc2.VisibleBacklog("0xb"); len(got) != 0 {
		t.Fatalf("ledger lost across restart: backlog(b) = %v", backlogIDs(got))
	}
	if board := svc2.Leaderboard(); len(board) != 1 || board[0].Address != "0xb" {
		t.Fatalf("leaderboard lost across restart: %+v", board)
	}
}

func TestJoinMissedCreateFetchesFromChain(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"12": {ID: "12", Player1: "0xAA", Player2: "0xbb", Token1: "5", Token2: "6", CreatedAt: "100"},
		},
	}
	svc, _ := newTestService(t, src)
	svc.Apply(context.Background(), chain.Event{Kind: chain.GameJoined, GameID: "12", Player: "0xbb", Token2: "6"})
	svc.mu.Lock()
	rec := svc.resolved["12"]
	svc.mu.Unlock()
	if rec == nil {
		t.Fatal("record not synthesized")
	}
	if rec.Player1 != "0xaa" || rec.Token1 != "5" || rec.Image1 != "img://5" {
		t.Fatalf("creator side not recovered: %+v", rec)
	}
}

func TestFallbackNotYetResolved(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"99": {ID: "99", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
	}
	svc, _ := newTestService(t, src)
	sleeps := 0
	svc.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }

	_, err := svc.RequestResolution(context.Background(), "99", "0xa")
	if !errors.Is(err, ErrNotYetResolved) {
		t.Fatalf("err = %v, want ErrNotYetResolved", err)
	}
	if src.outcomeReads != 3 {
		t.Fatalf("outcome reads = %d, want 3 attempts", src.outcomeReads)
	}
	if sleeps != 2 {
		t.Fatalf("sleeps = %d, want 2 (between attempts)", sleeps)
	}
	svc.mu.Lock()
	_, exists := svc.resolved["99"]
	svc.mu.Unlock()
	if exists {
		t.Fatal("unresolved fallback must not create a record")
	}
}

func TestFallbackNotAuthorized(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"13": {ID: "13", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
	}
	svc, _ := newTestService(t, src)
	if _, err := svc.RequestResolution(context.Background(), "13", "0xEVE"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	// Unknown game ids fail the same way.
	if _, err := svc.RequestResolution(context.Background(), "404", "0xa"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized for unknown id", err)
	}
}

func TestFallbackNotJoined(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"14": {ID: "14", Player1: "0xa", Player2: chain.ZeroAddress, Token1: "1"},
		},
	}
	svc, _ := newTestService(t, src)
	if _, err := svc.RequestResolution(context.Background(), "14", "0xa"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v, want ErrNotJoined", err)
	}
}

func TestFallbackCanceled(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"15": {ID: "15", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
		outcomes: map[string]chain.Outcome{"15": {Canceled: true}},
	}
	svc, _ := newTestService(t, src)
	if _, err := svc.RequestResolution(context.Background(), "15", "0xa"); !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
}

func TestFallbackSuccessMarksLedger(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"16": {ID: "16", Player1: "0xa", Player2: "0xb", Token1: "1", Token2: "2"},
		},
		outcomes: map[string]chain.Outcome{"16": {Resolved: true, Winner: "0xB"}},
	}
	svc, _ := newTestService(t, src)
	got, err := svc.RequestResolution(context.Background(), "16", "0xA")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if got.Winner != "0xb" || !got.Resolved {
		t.Fatalf("result = %+v", got)
	}
	if !svc.IsAcknowledged("0xa", "16") {
		t.Fatal("successful fallback must mark the requester's ledger")
	}
	// The other participant still has it pending.
	if backlog := svc.VisibleBacklog("0xb"); len(backlog) != 1 {
		t.Fatalf("backlog(b) = %v, want the game", backlogIDs(backlog))
	}
}

func TestFallbackServesCachedResolution(t *testing.T) {
	src := &fakeSource{}
	svc, _ := newTestService(t, src)
	ctx := context.Background()
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "17", Player: "0xa", Token1: "1"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameJoined, GameID: "17", Player: "0xb", Token2: "2"})
	svc.Apply(ctx, chain.Event{Kind: chain.GameResolved, GameID: "17", Winner: "0xa"})

	got, err := svc.RequestResolution(ctx, "17", "0xb")
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if got.Winner != "0xa" {
		t.Fatalf("winner = %q", got.Winner)
	}
	if src.gameReads != 0 {
		t.Fatalf("cached resolution hit the chain %d times", src.gameReads)
	}
}

func TestResyncClosesGaps(t *testing.T) {
	src := &fakeSource{
		games: map[string]chain.Game{
			"20": {ID: "20", Player1: "0xa", Token1: "1", Player2: chain.ZeroAddress},
			"21": {ID: "21", Player1: "0xc", Player2: "0xd", Token1: "3", Token2: "4"},
		},
		open: []string{"20"},
	}
	svc, _ := newTestService(t, src)
	ctx := context.Background()
	// Game 21 was open in memory but got joined while the stream was down.
	svc.Apply(ctx, chain.Event{Kind: chain.GameCreated, GameID: "21", Player: "0xc", Token1: "3"})

	if err := svc.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	open := svc.OpenSnapshot()
	if len(open) != 1 || open[0].ID != "20" {
		t.Fatalf("open after resync = %+v, want exactly game 20", open)
	}
	svc.mu.Lock()
	rec := svc.resolved["21"]
	svc.mu.Unlock()
	if rec == nil || rec.Player2 != "0xd" {
		t.Fatalf("joined game not recovered: %+v", rec)
	}
}

func TestRequestPoints(t *testing.T) {
	src := &fakeSource{
		profiles: map[string]chain.PointsProfile{
			"0xa": {Points: "42", Stakes: []chain.Stake{{TokenID: "9", Pending: "5"}}},
		},
	}
	svc, _ := newTestService(t, src)
	view, err := svc.RequestPoints(context.Background(), "0xA")
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if view.Points != "42" || len(view.Stakes) != 1 || view.Stakes[0].Image != "img://9" {
		t.Fatalf("view = %+v", view)
	}
}

func TestPointsEventTargetsIdentity(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	fan := &fakeFanout{}
	svc.SetFanout(fan)
	svc.Apply(context.Background(), chain.Event{Kind: chain.PointsChanged, Identity: "0xA", Reason: "points_added"})
	fan.mu.Lock()
	defer fan.mu.Unlock()
	if len(fan.sent) != 1 || fan.sent[0].Identity != "0xa" || fan.sent[0].Type != "pointsChanged" {
		t.Fatalf("sent = %+v", fan.sent)
	}
}
