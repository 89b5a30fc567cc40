// Package registry maintains the nickname table: the single source of truth
// mapping each registered nickname to its live session.
package registry

import (
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/mkaancelik/chatwire/internal/protocol"
)

// ErrEmptyNickname is returned when registration is attempted with an
// empty requested name.
var ErrEmptyNickname = errors.New("registry: empty nickname")

// Peer is the registry's view of a live session. The registry holds
// non-owning references; sessions own their transport and lifecycle.
type Peer interface {
	// Deliver writes one envelope to the session's transport.
	Deliver(env protocol.Envelope) error

	// Close tears the session down. Must be idempotent; used by the
	// router to schedule cleanup of a session that failed delivery.
	Close() error
}

// Registry enforces nickname uniqueness across all concurrent sessions.
// Nicknames are case-sensitive. All methods are safe for concurrent use,
// and registration is transactional: two racing attempts for the same name
// can never both win it.
type Registry struct {
	mu    sync.Mutex
	peers map[string]Peer
}

func New() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

// Register claims requested for p and returns the assigned nickname. If
// requested is taken, the smallest unused numeric suffix >= 2 is appended
// (name2, name3, ...). A numeric-suffixed name requested directly collides
// like any other and gets the same treatment.
func (r *Registry) Register(requested string, p Peer) (string, error) {
	if requested == "" {
		return "", ErrEmptyNickname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	assigned := requested
	for n := 2; ; n++ {
		if _, taken := r.peers[assigned]; !taken {
			break
		}
		assigned = requested + strconv.Itoa(n)
	}
	r.peers[assigned] = p
	return assigned, nil
}

// Lookup returns the session registered under nickname, if any.
func (r *Registry) Lookup(nickname string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nickname]
	return p, ok
}

// Unregister removes nickname. Removing an absent name is a no-op.
func (r *Registry) Unregister(nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nickname)
}

// Snapshot returns a copy of the current nickname table, safe to iterate
// without holding the registry lock (delivery must not serialize behind
// registration).
func (r *Registry) Snapshot() map[string]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Peer, len(r.peers))
	for nick, p := range r.peers {
		out[nick] = p
	}
	return out
}

// Nicknames returns all registered nicknames in sorted order.
func (r *Registry) Nicknames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for nick := range r.peers {
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered nicknames.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
