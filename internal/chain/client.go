package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/config"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Client talks JSON-RPC to an Ethereum node over HTTP. It implements Source.
type Client struct {
	httpURL string
	game    string
	nft     string
	points  string
	timeout time.Duration
	hc      *http.Client
	logger  logpkg.Logger
	reqID   atomic.Int64
}

// NewClient builds a Client from chain configuration.
func NewClient(cfg config.Chain, logger logpkg.Logger) *Client {
	timeout := cfg.CallTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpURL: cfg.HTTPURL,
		game:    strings.ToLower(cfg.GameContract),
		nft:     strings.ToLower(cfg.NFTContract),
		points:  strings.ToLower(cfg.PointsContract),
		timeout: timeout,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger.WithComponent("chain"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) rpc(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := rpcRequest{JSONRPC: "2.0", ID: c.reqID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(hreq)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chain: %s: unexpected status %s", method, resp.Status)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("chain: %s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("chain: %s: %w", method, rr.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("chain: %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) ethCall(ctx context.Context, to, data string) (string, error) {
	var out string
	params := []any{map[string]string{"to": to, "data": data}, "latest"}
	if err := c.rpc(ctx, "eth_call", params, &out); err != nil {
		return "", err
	}
	return out, nil
}

// Game fetches the authoritative game record. It returns ErrNotFound when the
// contract has no player for the id.
func (c *Client) Game(ctx context.Context, id string) (Game, error) {
	arg, err := encodeUintWord(id)
	if err != nil {
		return Game{}, err
	}
	res, err := c.ethCall(ctx, c.game, "0x"+selGetGame+arg)
	if err != nil {
		return Game{}, err
	}
	words, err := splitWords(res)
	if err != nil {
		return Game{}, err
	}
	// The returned tuple carries a dynamic bytes member, so the payload is
	// head offset + tuple words. Skip the offset word when present.
	base := 0
	if len(words) >= 10 && wordUint(words[0]) == "32" {
		base = 1
	}
	if len(words) < base+9 {
		return Game{}, ErrNotFound
	}
	g := Game{
		ID:        id,
		Player1:   wordAddress(words[base]),
		Token1:    wordUint(words[base+1]),
		Player2:   wordAddress(words[base+2]),
		Token2:    wordUint(words[base+3]),
		Active:    wordBool(words[base+4]),
		JoinedAt:  wordUint(words[base+7]),
		CreatedAt: wordUint(words[base+8]),
	}
	if g.Player1 == ZeroAddress {
		return Game{}, ErrNotFound
	}
	return g, nil
}

// OpenGameIDs lists the ids the contract currently reports as open.
func (c *Client) OpenGameIDs(ctx context.Context) ([]string, error) {
	res, err := c.ethCall(ctx, c.game, "0x"+selGetOpenGames)
	if err != nil {
		return nil, err
	}
	words, err := splitWords(res)
	if err != nil {
		return nil, err
	}
	if len(words) < 2 {
		return nil, nil
	}
	n := wordLen(words[1])
	ids := make([]string, 0, n)
	for i := 0; i < n && 2+i < len(words); i++ {
		ids = append(ids, wordUint(words[2+i]))
	}
	return ids, nil
}

// Outcome searches the contract's event history for a terminal event for id.
func (c *Client) Outcome(ctx context.Context, id string) (Outcome, error) {
	filter := map[string]any{
		"address":   c.game,
		"fromBlock": "0x0",
		"toBlock":   "latest",
		"topics":    []any{[]string{topicGameResolved, topicGameCanceled}},
	}
	var logs []Log
	if err := c.rpc(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return Outcome{}, err
	}
	var out Outcome
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok := DecodeLog(lg)
		if !ok || ev.GameID != id {
			continue
		}
		switch ev.Kind {
		case GameResolved:
			out.Resolved = true
			out.Winner = ev.Winner
		case GameCanceled:
			out.Canceled = true
		}
	}
	return out, nil
}

// TokenURI reads the NFT metadata URI for a token.
func (c *Client) TokenURI(ctx context.Context, tokenID string) (string, error) {
	arg, err := encodeUintWord(tokenID)
	if err != nil {
		return "", err
	}
	res, err := c.ethCall(ctx, c.nft, "0x"+selTokenURI+arg)
	if err != nil {
		return "", err
	}
	return decodeString(res)
}

// PointsProfile aggregates the points contract state for an identity.
func (c *Client) PointsProfile(ctx context.Context, identity string) (PointsProfile, error) {
	addrWord, err := encodeAddressWord(identity)
	if err != nil {
		return PointsProfile{}, err
	}

	res, err := c.ethCall(ctx, c.points, "0x"+selGetTotalPoints+addrWord)
	if err != nil {
		return PointsProfile{}, err
	}
	words, err := splitWords(res)
	if err != nil || len(words) < 1 {
		return PointsProfile{}, fmt.Errorf("chain: malformed getTotalPoints result")
	}
	profile := PointsProfile{Points: wordUint(words[0]), Stakes: []Stake{}}

	res, err = c.ethCall(ctx, c.points, "0x"+selGetDaycares+addrWord)
	if err != nil {
		return PointsProfile{}, err
	}
	words, err = splitWords(res)
	if err != nil {
		return PointsProfile{}, err
	}
	if len(words) < 2 {
		return profile, nil
	}
	n := wordLen(words[1])
	for i := 0; i < n; i++ {
		base := 2 + i*3
		if base+2 >= len(words) {
			break
		}
		st := Stake{
			TokenID:       wordUint(words[base]),
			StartTime:     wordUint(words[base+1]),
			ClaimedPoints: wordUint(words[base+2]),
		}
		idxWord, err := encodeUintWord(fmt.Sprintf("%d", i))
		if err != nil {
			return PointsProfile{}, err
		}
		pres, err := c.ethCall(ctx, c.points, "0x"+selGetPendingPoints+addrWord+idxWord)
		if err != nil {
			// Pending points are decorative; keep the stake with zero pending.
			c.logger.Warn("pending points lookup failed", logpkg.Str("identity", identity), logpkg.Int("index", i), logpkg.Err(err))
			st.Pending = "0"
		} else if pw, err := splitWords(pres); err == nil && len(pw) > 0 {
			st.Pending = wordUint(pw[0])
		} else {
			st.Pending = "0"
		}
		profile.Stakes = append(profile.Stakes, st)
	}
	return profile, nil
}

// GameAddress returns the game contract address (lowercase).
func (c *Client) GameAddress() string { return c.game }

// PointsAddress returns the points contract address (lowercase).
func (c *Client) PointsAddress() string { return c.points }
