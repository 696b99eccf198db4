package session

import (
	"strings"
	"sync"

	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Message is the outbound envelope pushed to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is one live client connection. Send must be non-blocking and
// best-effort; the transport drops messages a slow client cannot take.
type Conn interface {
	Send(msg Message)
}

// Directory tracks live connections and the wallet each one registered as.
// A connection exists before it registers (and may never register); an
// identity holds at most one connection, last register wins. Nothing here
// is persisted.
type Directory struct {
	logger logpkg.Logger

	mu       sync.Mutex
	conns    map[Conn]string // conn -> identity ("" until registered)
	identity map[string]Conn
}

// NewDirectory builds an empty Directory.
func NewDirectory(logger logpkg.Logger) *Directory {
	return &Directory{
		logger:   logger.WithComponent("session"),
		conns:    make(map[Conn]string),
		identity: make(map[string]Conn),
	}
}

// Attach adds an anonymous connection.
func (d *Directory) Attach(c Conn) {
	d.mu.Lock()
	d.conns[c] = ""
	n := len(d.conns)
	d.mu.Unlock()
	d.logger.Debug("connection attached", logpkg.Int("connections", n))
}

// Detach removes a connection and any identity mapped to it.
func (d *Directory) Detach(c Conn) {
	d.mu.Lock()
	identity, ok := d.conns[c]
	delete(d.conns, c)
	if ok && identity != "" && d.identity[identity] == c {
		delete(d.identity, identity)
	}
	n := len(d.conns)
	d.mu.Unlock()
	if identity != "" {
		d.logger.Debug("session closed",
			logpkg.Str("identity", identity), logpkg.Int("connections", n))
	}
}

// Register binds the connection to the normalized identity, displacing any
// prior connection holding it. It returns the normalized form.
func (d *Directory) Register(identity string, c Conn) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return ""
	}
	d.mu.Lock()
	if prev, ok := d.identity[identity]; ok && prev != c {
		// The old connection stays attached but loses the identity.
		if d.conns[prev] == identity {
			d.conns[prev] = ""
		}
	}
	// One identity per connection too: a re-register overwrites.
	if old := d.conns[c]; old != "" && old != identity && d.identity[old] == c {
		delete(d.identity, old)
	}
	d.conns[c] = identity
	d.identity[identity] = c
	d.mu.Unlock()
	d.logger.Info("session registered", logpkg.Str("identity", identity))
	return identity
}

// SendTo delivers to the identity's live connection, silently dropping the
// message if there is none.
func (d *Directory) SendTo(identity, typ string, data any) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	d.mu.Lock()
	c, ok := d.identity[identity]
	d.mu.Unlock()
	if ok {
		c.Send(Message{Type: typ, Data: data})
	}
}

// Broadcast delivers to every attached connection, registered or not.
func (d *Directory) Broadcast(typ string, data any) {
	d.mu.Lock()
	targets := make([]Conn, 0, len(d.conns))
	for c := range d.conns {
		targets = append(targets, c)
	}
	d.mu.Unlock()
	msg := Message{Type: typ, Data: data}
	for _, c := range targets {
		c.Send(msg)
	}
}

// Count returns the number of attached connections.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
