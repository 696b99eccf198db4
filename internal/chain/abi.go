package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Minimal ABI codec for the handful of signatures the relay touches. The
// contracts involved use only static words (uint256, address, bool), one
// dynamic bytes member in the game tuple, and dynamic strings for tokenURI,
// so a full ABI library is not needed.

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

// EventTopic returns the topic0 hash for an event signature like
// "GameCreated(uint256,address,uint256)".
func EventTopic(sig string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(sig)))
}

// selector returns the 4-byte function selector as hex (no 0x prefix).
func selector(sig string) string {
	return hex.EncodeToString(keccak([]byte(sig))[:4])
}

// Game contract event signatures. None of the arguments are indexed, so all
// values are decoded from the log data.
var (
	topicGameCreated  = EventTopic("GameCreated(uint256,address,uint256)")
	topicGameJoined   = EventTopic("GameJoined(uint256,address,uint256)")
	topicGameResolved = EventTopic("GameResolved(uint256,address,uint256,uint256)")
	topicGameCanceled = EventTopic("GameCanceled(uint256)")
)

// Points contract event signatures. The user argument is indexed and arrives
// in topics[1]; the remaining values are in the data.
var (
	topicClaimed     = EventTopic("Claimed(address,uint256)")
	topicPointsAdded = EventTopic("PointsAdded(address,uint256)")
	topicPointsBurnt = EventTopic("PointsBurned(address,uint256)")
	topicDroppedOff  = EventTopic("DroppedOff(address,uint256,uint256)")
	topicPickedUp    = EventTopic("PickedUp(address,uint256)")
)

var (
	selGetGame          = selector("getGame(uint256)")
	selGetOpenGames     = selector("getOpenGames()")
	selTokenURI         = selector("tokenURI(uint256)")
	selGetTotalPoints   = selector("getTotalPoints(address)")
	selGetDaycares      = selector("getDaycares(address)")
	selGetPendingPoints = selector("getPendingPoints(address,uint256)")
)

// Log mirrors the JSON-RPC log object.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	Removed     bool     `json:"removed"`
}

// DecodeLog turns a raw log into a typed Event. The second return is false
// for logs this relay does not understand.
func DecodeLog(lg Log) (Event, bool) {
	if len(lg.Topics) == 0 {
		return Event{}, false
	}
	topic := strings.ToLower(lg.Topics[0])
	words, err := splitWords(lg.Data)
	if err != nil {
		return Event{}, false
	}
	switch topic {
	case topicGameCreated:
		if len(words) < 3 {
			return Event{}, false
		}
		return Event{
			Kind:   GameCreated,
			GameID: wordUint(words[0]),
			Player: wordAddress(words[1]),
			Token1: wordUint(words[2]),
		}, true
	case topicGameJoined:
		if len(words) < 3 {
			return Event{}, false
		}
		return Event{
			Kind:   GameJoined,
			GameID: wordUint(words[0]),
			Player: wordAddress(words[1]),
			Token2: wordUint(words[2]),
		}, true
	case topicGameResolved:
		if len(words) < 4 {
			return Event{}, false
		}
		return Event{
			Kind:   GameResolved,
			GameID: wordUint(words[0]),
			Winner: wordAddress(words[1]),
			Token1: wordUint(words[2]),
			Token2: wordUint(words[3]),
		}, true
	case topicGameCanceled:
		if len(words) < 1 {
			return Event{}, false
		}
		return Event{Kind: GameCanceled, GameID: wordUint(words[0])}, true
	case topicClaimed, topicPointsAdded, topicPointsBurnt, topicDroppedOff, topicPickedUp:
		if len(lg.Topics) < 2 {
			return Event{}, false
		}
		user, err := topicAddress(lg.Topics[1])
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: PointsChanged, Identity: user, Reason: pointsReason(topic)}, true
	}
	return Event{}, false
}

func pointsReason(topic string) string {
	switch topic {
	case topicClaimed:
		return "claimed"
	case topicPointsAdded:
		return "points_added"
	case topicPointsBurnt:
		return "points_burned"
	case topicDroppedOff:
		return "dropped_off"
	case topicPickedUp:
		return "picked_up"
	}
	return ""
}

// splitWords decodes hex call/log data into 32-byte words. A trailing partial
// word is discarded.
func splitWords(data string) ([][]byte, error) {
	raw, err := hexBytes(data)
	if err != nil {
		return nil, err
	}
	words := make([][]byte, 0, len(raw)/32)
	for i := 0; i+32 <= len(raw); i += 32 {
		words = append(words, raw[i:i+32])
	}
	return words, nil
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// wordAddress extracts the low 20 bytes of a word as a lowercase hex address.
func wordAddress(w []byte) string {
	if len(w) != 32 {
		return ZeroAddress
	}
	return "0x" + hex.EncodeToString(w[12:])
}

// topicAddress decodes an address packed into an indexed topic.
func topicAddress(topic string) (string, error) {
	raw, err := hexBytes(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("chain: topic is %d bytes, want 32", len(raw))
	}
	return wordAddress(raw), nil
}

// wordUint renders a word as a decimal string.
func wordUint(w []byte) string {
	return new(big.Int).SetBytes(w).String()
}

func wordBool(w []byte) bool {
	return new(big.Int).SetBytes(w).Sign() != 0
}

// wordLen reads a word as a small non-negative int, clamping anything
// implausible to zero. Used for array lengths.
func wordLen(w []byte) int {
	n := new(big.Int).SetBytes(w)
	if !n.IsInt64() || n.Int64() < 0 || n.Int64() > 1<<20 {
		return 0
	}
	return int(n.Int64())
}

// encodeUintWord ABI-encodes a decimal string as a 32-byte word (hex, no 0x).
func encodeUintWord(dec string) (string, error) {
	n, ok := new(big.Int).SetString(dec, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("chain: bad uint %q", dec)
	}
	if n.BitLen() > 256 {
		return "", fmt.Errorf("chain: uint %q overflows 256 bits", dec)
	}
	return hex.EncodeToString(n.FillBytes(make([]byte, 32))), nil
}

// encodeAddressWord ABI-encodes an 0x address as a 32-byte word (hex, no 0x).
func encodeAddressWord(addr string) (string, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	if len(s) != 40 {
		return "", fmt.Errorf("chain: bad address %q", addr)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("chain: bad address %q", addr)
	}
	return strings.Repeat("0", 24) + s, nil
}

// decodeString decodes an ABI-encoded dynamic string return value.
func decodeString(data string) (string, error) {
	raw, err := hexBytes(data)
	if err != nil {
		return "", err
	}
	if len(raw) < 64 {
		return "", fmt.Errorf("chain: string return too short (%d bytes)", len(raw))
	}
	offset := new(big.Int).SetBytes(raw[:32])
	if !offset.IsInt64() || offset.Int64()+32 > int64(len(raw)) {
		return "", fmt.Errorf("chain: bad string offset")
	}
	start := offset.Int64()
	strlen := new(big.Int).SetBytes(raw[start : start+32])
	if !strlen.IsInt64() || start+32+strlen.Int64() > int64(len(raw)) {
		return "", fmt.Errorf("chain: bad string length")
	}
	return string(raw[start+32 : start+32+strlen.Int64()]), nil
}
