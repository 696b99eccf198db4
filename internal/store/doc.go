// Package store is the durable record store: four JSON snapshot files (open
// games, resolved games, acknowledgment ledger, leaderboard), each fully
// overwritten on save. Disk trouble degrades to logging; a corrupt or
// missing snapshot loads as an empty collection.
package store
