// Package reconcile is the relay's state engine. It folds the contract's
// possibly-duplicated, possibly-gapped event stream into three durable
// collections and answers client requests against them.
//
// # Overview
//
// Service owns:
//   - open games (waiting for an opponent),
//   - resolved games (joined, pending or settled),
//   - the per-wallet acknowledgment ledger,
//   - the win-count leaderboard.
//
// Every merge is idempotent and overwrite-with-latest-fact, so re-delivered
// or reordered events converge. Gaps left by subscription downtime are
// closed two ways, both reusing the same merges: a periodic full resync
// against the contract's open set, and an on-demand fallback (RequestResolution)
// that reads the contract directly when a client asks about a game the
// stream never settled.
//
// A game id lives in at most one of the two game collections. The ledger is
// a monotonic exclusion filter: once an id enters a wallet's set it never
// reappears in that wallet's backlog, even if the record is rebuilt later.
package reconcile
