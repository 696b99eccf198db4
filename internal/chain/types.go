package chain

import (
	"context"
	"errors"
)

// ZeroAddress is the empty EVM address, used by the contract for "no player".
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// EventKind tags decoded contract events.
type EventKind string

const (
	GameCreated  EventKind = "game_created"
	GameJoined   EventKind = "game_joined"
	GameResolved EventKind = "game_resolved"
	GameCanceled EventKind = "game_canceled"
	// PointsChanged covers the points contract side-channel; the specific
	// contract event is carried in Event.Reason.
	PointsChanged EventKind = "points_changed"
)

// Event is a decoded contract event. Address fields are normalized to
// lowercase hex before the event leaves this package.
type Event struct {
	Kind   EventKind `json:"kind"`
	GameID string    `json:"gameId,omitempty"`
	Player string    `json:"player,omitempty"`
	Winner string    `json:"winner,omitempty"`
	Token1 string    `json:"tokenId1,omitempty"`
	Token2 string    `json:"tokenId2,omitempty"`

	// Identity and Reason are set for points side-channel events.
	Identity string `json:"identity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Game is the authoritative per-game record returned by the contract.
type Game struct {
	ID        string `json:"id"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2"`
	Token1    string `json:"tokenId1"`
	Token2    string `json:"tokenId2"`
	Active    bool   `json:"active"`
	JoinedAt  string `json:"joinTimestamp"`
	CreatedAt string `json:"createTimestamp"`
}

// HasOpponent reports whether a second player has joined.
func (g Game) HasOpponent() bool {
	return g.Player2 != "" && g.Player2 != ZeroAddress
}

// Outcome is the result of searching the event history for a terminal event.
type Outcome struct {
	Resolved bool
	Canceled bool
	Winner   string
}

// Stake is one staked token in the points contract.
type Stake struct {
	TokenID       string `json:"tokenId"`
	StartTime     string `json:"startTime"`
	ClaimedPoints string `json:"claimedPoints"`
	Pending       string `json:"pending"`
}

// PointsProfile aggregates an identity's points state.
type PointsProfile struct {
	Points string  `json:"points"`
	Stakes []Stake `json:"stakes"`
}

// ErrNotFound is returned when the contract has no record for a game id.
var ErrNotFound = errors.New("chain: game not found")

// Source is the read surface of the authoritative contract state. It is
// eventually consistent and may be temporarily unavailable; callers carry
// context timeouts.
type Source interface {
	Game(ctx context.Context, id string) (Game, error)
	OpenGameIDs(ctx context.Context) ([]string, error)
	Outcome(ctx context.Context, id string) (Outcome, error)
	PointsProfile(ctx context.Context, identity string) (PointsProfile, error)
}
