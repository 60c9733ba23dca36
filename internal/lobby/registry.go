package lobby

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rherriman/ratd/internal/protocol"
)

// Registry is the concurrent set of active lobbies, keyed by the address
// each announcement arrived from. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	lobbies map[netip.AddrPort]*Lobby
	logger  *slog.Logger
}

// NewRegistry creates an empty lobby registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		lobbies: make(map[netip.AddrPort]*Lobby),
		logger:  logger,
	}
}

// Insert adds a lobby to the registry. A lobby announced from an address
// that already has one replaces the old entry, which also refreshes its
// last-seen time.
func (r *Registry) Insert(l *Lobby) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.lobbies[l.source]
	r.lobbies[l.source] = l

	if replaced {
		r.logger.Debug("Lobby announcement refreshed",
			slog.String("source", l.source.String()),
		)
	} else {
		r.logger.Info("Lobby registered",
			slog.String("source", l.source.String()),
			slog.Int("total", len(r.lobbies)),
		)
	}
}

// Remove deletes the lobby announced from the given address. It reports
// whether a lobby was actually removed.
func (r *Registry) Remove(source netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lobbies[source]; !ok {
		return false
	}
	delete(r.lobbies, source)
	r.logger.Info("Lobby removed",
		slog.String("source", source.String()),
		slog.Int("total", len(r.lobbies)),
	)
	return true
}

// Search returns wire-form Response datagrams for up to limit lobbies, each
// tagged with the query id, its index in the batch, and the batch size. An
// empty registry or a zero limit yields a single response with a count of
// zero so the client still learns its query completed.
//
// The query term is accepted for wire compatibility but does not filter
// results yet; clients send empty terms in practice.
func (r *Registry) Search(term string, queryID uint32, limit int) [][]byte {
	_ = term

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.lobbies) == 0 || limit <= 0 {
		empty := protocol.NewDatagram(protocol.CommandResponse)
		empty.SetQueryID(queryID)
		empty.AddTag(protocol.ResponseCountTag{Count: 0})
		return [][]byte{empty.Encode()}
	}

	count := len(r.lobbies)
	if count > limit {
		count = limit
	}

	responses := make([][]byte, 0, count)
	for _, l := range r.lobbies {
		if len(responses) == count {
			break
		}
		idx := uint16(len(responses))
		responses = append(responses, l.Response(queryID, idx, uint16(count)))
	}
	return responses
}

// Expire removes every lobby whose last announcement is at least ttl old
// and returns the number removed.
func (r *Registry) Expire(ttl time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for source, l := range r.lobbies {
		if l.Age(now) >= ttl {
			delete(r.lobbies, source)
			expired++
			r.logger.Info("Lobby expired",
				slog.String("source", source.String()),
				slog.Duration("age", l.Age(now)),
			)
		}
	}
	return expired
}

// Len returns the number of active lobbies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbies)
}
