package reconcile

import (
	"context"
	"errors"
	"strings"
)

// OpenGame is one game waiting for an opponent. The JSON shape is the wire
// shape clients receive in openGames snapshots and also the snapshot-file
// shape, so field names stay stable across both.
type OpenGame struct {
	ID        string `json:"id"`
	Player1   string `json:"player1"`
	Token1    string `json:"tokenId1"`
	Image1    string `json:"image1"`
	CreatedAt string `json:"createTimestamp,omitempty"`
}

// ResolvedGame is a game with an opponent, pending or settled. It is created
// when a join is observed (resolved=false) or synthesized by the on-demand
// fallback, then mutated in place as resolution facts arrive.
//
// ViewedBy and AcknowledgedBy are advisory display flags keyed by normalized
// wallet address. They are reset when a new resolution fact lands; the
// acknowledgment ledger, kept separately, is never reset.
type ResolvedGame struct {
	ID        string `json:"id"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2,omitempty"`
	Token1    string `json:"tokenId1"`
	Token2    string `json:"tokenId2,omitempty"`
	Image1    string `json:"image1"`
	Image2    string `json:"image2,omitempty"`
	Resolved  bool   `json:"resolved"`
	Winner    string `json:"winner,omitempty"`
	JoinedAt  string `json:"joinTimestamp,omitempty"`
	CreatedAt string `json:"createTimestamp,omitempty"`

	ViewedBy       map[string]bool `json:"viewedBy"`
	AcknowledgedBy map[string]bool `json:"acknowledgedBy"`
}

// Participant reports whether the normalized identity is one of the two
// players.
func (g *ResolvedGame) Participant(identity string) bool {
	return g.Player1 == identity || (g.Player2 != "" && g.Player2 == identity)
}

// LeaderboardEntry is one row of the win-count leaderboard, ordered by wins
// descending with address as tie-break.
type LeaderboardEntry struct {
	Address string `json:"address"`
	Wins    int    `json:"wins"`
}

// Outcomes of the on-demand resolution fallback, surfaced to the requesting
// client as typed errors.
var (
	ErrNotAuthorized  = errors.New("reconcile: requester is not a participant")
	ErrNotJoined      = errors.New("reconcile: game has no opponent yet")
	ErrCanceled       = errors.New("reconcile: game was canceled")
	ErrNotYetResolved = errors.New("reconcile: game is not resolved yet")
)

// Fanout pushes messages to live connections. Delivery is best-effort;
// implementations drop messages for identities without a connection.
type Fanout interface {
	Broadcast(typ string, data any)
	SendTo(identity, typ string, data any)
}

// Recorder appends raw event payloads to the audit journal.
type Recorder interface {
	Append(ctx context.Context, payload []byte) (uint64, error)
}

// ImageSource resolves a token's display image, falling back to a
// placeholder rather than failing.
type ImageSource interface {
	DisplayImage(ctx context.Context, tokenID string) string
}

// normalize lowercases an identity so case variants of the same wallet
// address share one key everywhere.
func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// lessID orders decimal game ids numerically without parsing.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
