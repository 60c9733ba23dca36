package lobby

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/rherriman/ratd/internal/protocol"
)

func newHello(reportedAddr string) *protocol.Datagram {
	d := protocol.NewDatagram(protocol.CommandHello)
	d.AddTag(protocol.SoftwareVersionTag{Value: []byte("1.0.2")})
	d.AddTag(protocol.PlayerLimitTag{Limit: 6})
	d.AddTag(protocol.PlayerIPPortTag{Player: 0, Addr: netip.MustParseAddrPort(reportedAddr)})
	d.AddTag(protocol.GameStatusTag{Status: protocol.StatusNotLoaded})
	d.AddTag(protocol.PlayerNickTag{Player: 0, Nick: []byte("silverfox")})
	return d
}

func TestNewRewritesHostAddress(t *testing.T) {
	source := netip.MustParseAddrPort("203.0.113.9:40000")
	l, err := New(source, newHello("10.0.2.15:19567"))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if l.Source() != source {
		t.Errorf("Source() = %s, want %s", l.Source(), source)
	}

	resp, err := protocol.Decode(l.Response(1, 0, 1))
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}
	if resp.Command != protocol.CommandResponse {
		t.Errorf("Command = %s, want %s", resp.Command, protocol.CommandResponse)
	}

	want := netip.MustParseAddrPort("203.0.113.9:19567")
	found := false
	for _, tag := range resp.Tags {
		if addr, ok := tag.(protocol.PlayerIPPortTag); ok && addr.Player == 0 {
			found = true
			if addr.Addr != want {
				t.Errorf("host address = %s, want %s", addr.Addr, want)
			}
		}
	}
	if !found {
		t.Error("response contains no host address tag")
	}
}

func TestNewRejectsIPv6Source(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"plain ipv6", "[2001:db8::1]:40000"},
		{"ipv6 loopback", "[::1]:40000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := netip.MustParseAddrPort(tt.source)
			l, err := New(source, newHello("10.0.2.15:19567"))
			if !errors.Is(err, ErrNotIPv4) {
				t.Errorf("New() error = %v, want %v", err, ErrNotIPv4)
			}
			if l != nil {
				t.Error("New() returned a lobby for an IPv6 source")
			}
		})
	}
}

func TestNewAcceptsMappedIPv4Source(t *testing.T) {
	source := netip.MustParseAddrPort("[::ffff:203.0.113.9]:40000")
	l, err := New(source, newHello("10.0.2.15:19567"))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	resp, err := protocol.Decode(l.Response(1, 0, 1))
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}

	want := netip.MustParseAddrPort("203.0.113.9:19567")
	found := false
	for _, tag := range resp.Tags {
		if addr, ok := tag.(protocol.PlayerIPPortTag); ok && addr.Player == 0 {
			found = true
			if addr.Addr != want {
				t.Errorf("host address = %s, want %s", addr.Addr, want)
			}
		}
	}
	if !found {
		t.Error("response contains no host address tag")
	}
}

func TestNewRejectsNonHello(t *testing.T) {
	source := netip.MustParseAddrPort("203.0.113.9:40000")
	query := protocol.NewDatagram(protocol.CommandQuery)
	if _, err := New(source, query); !errors.Is(err, ErrNotHello) {
		t.Errorf("New() error = %v, want %v", err, ErrNotHello)
	}
}

func TestResponseCarriesQueryTags(t *testing.T) {
	source := netip.MustParseAddrPort("203.0.113.9:40000")
	l, err := New(source, newHello("10.0.2.15:19567"))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	resp, err := protocol.Decode(l.Response(3225, 4, 12))
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}

	id, ok := resp.QueryID()
	if !ok || id != 3225 {
		t.Errorf("QueryID() = (%d, %v), want (3225, true)", id, ok)
	}

	var index, count *uint16
	for _, tag := range resp.Tags {
		switch v := tag.(type) {
		case protocol.ResponseIndexTag:
			index = &v.Index
		case protocol.ResponseCountTag:
			count = &v.Count
		}
	}
	if index == nil || *index != 4 {
		t.Errorf("response index = %v, want 4", index)
	}
	if count == nil || *count != 12 {
		t.Errorf("response count = %v, want 12", count)
	}
}

func TestResponseDoesNotMutateTemplate(t *testing.T) {
	source := netip.MustParseAddrPort("203.0.113.9:40000")
	l, err := New(source, newHello("10.0.2.15:19567"))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	first := l.Response(1, 0, 1)
	second := l.Response(1, 0, 1)
	if !bytes.Equal(first, second) {
		t.Error("repeated Response() calls produced different bytes")
	}
}
