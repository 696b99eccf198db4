// Package session maps wallet identities to live websocket connections for
// targeted and broadcast push. Associations live only as long as the
// connection; delivery is best-effort and never queued.
package session
