package lobby

import (
	"errors"
	"net/netip"
	"time"

	"github.com/rherriman/ratd/internal/protocol"
)

// ErrNotHello is returned when a lobby is built from a datagram whose
// command is not Hello.
var ErrNotHello = errors.New("lobby requires a hello datagram")

// ErrNotIPv4 is returned when an announcement arrives from an address the
// wire format cannot carry. Player address tags hold exactly four octets,
// so IPv6 hosts cannot be advertised.
var ErrNotIPv4 = errors.New("lobby requires an IPv4 source address")

// Lobby is one announced game session. The announcement is converted to a
// Response datagram at construction time and held in wire form, so serving a
// query only appends the per-query tags.
type Lobby struct {
	source   netip.AddrPort
	wire     []byte
	lastSeen time.Time
}

// New builds a lobby from a Hello announcement. Hosts behind NAT report
// their private address, so the host's (player 0) IP is replaced with the
// address the announcement actually arrived from. The self-reported port is
// kept, since that is the port the host listens on.
func New(source netip.AddrPort, hello *protocol.Datagram) (*Lobby, error) {
	if hello.Command != protocol.CommandHello {
		return nil, ErrNotHello
	}

	srcIP := source.Addr().Unmap()
	if !srcIP.Is4() {
		return nil, ErrNotIPv4
	}

	resp := protocol.NewDatagram(protocol.CommandResponse)
	resp.ProtocolVersion = hello.ProtocolVersion
	for _, tag := range hello.Tags {
		if t, ok := tag.(protocol.PlayerIPPortTag); ok && t.Player == 0 {
			t.Addr = netip.AddrPortFrom(srcIP, t.Addr.Port())
			tag = t
		}
		resp.AddTag(tag)
	}

	return &Lobby{
		source:   source,
		wire:     resp.Encode(),
		lastSeen: time.Now(),
	}, nil
}

// Source returns the address the lobby's announcement arrived from.
func (l *Lobby) Source() netip.AddrPort {
	return l.source
}

// Response returns the lobby's wire-form Response datagram for one query,
// tagged with the query id and the lobby's position in the result set.
func (l *Lobby) Response(queryID uint32, index, count uint16) []byte {
	buf := make([]byte, 0, len(l.wire)+14)
	buf = append(buf, l.wire...)
	buf = protocol.QueryIDTag{ID: queryID}.Encode(buf)
	buf = protocol.ResponseIndexTag{Index: index}.Encode(buf)
	buf = protocol.ResponseCountTag{Count: count}.Encode(buf)
	return buf
}

// Age reports how long ago the lobby last announced itself.
func (l *Lobby) Age(now time.Time) time.Duration {
	return now.Sub(l.lastSeen)
}
