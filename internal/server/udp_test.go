package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rherriman/ratd/internal/config"
	"github.com/rherriman/ratd/internal/lobby"
	"github.com/rherriman/ratd/internal/metrics"
	"github.com/rherriman/ratd/internal/protocol"
)

// Prometheus collectors register globally, so all tests share one instance.
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.UDPPort = 0 // Ephemeral port
	return cfg
}

func newTestServer(t *testing.T) (*UDPServer, *lobby.Registry) {
	t.Helper()
	registry := lobby.NewRegistry(testLogger())
	s := NewUDPServer(testConfig(), testLogger(), registry, testMetrics)
	return s, registry
}

func startTestServer(t *testing.T) (*UDPServer, *lobby.Registry, netip.AddrPort) {
	t.Helper()
	s, registry := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() returned error: %v", err)
		}
	})
	addr := s.LocalAddr().(*net.UDPAddr).AddrPort()
	return s, registry, addr
}

func helloDatagram() *protocol.Datagram {
	d := protocol.NewDatagram(protocol.CommandHello)
	d.AddTag(protocol.SoftwareVersionTag{Value: []byte("1.0.2")})
	d.AddTag(protocol.PlayerLimitTag{Limit: 6})
	d.AddTag(protocol.PlayerIPPortTag{Player: 0, Addr: netip.MustParseAddrPort("10.0.2.15:19567")})
	d.AddTag(protocol.GameStatusTag{Status: protocol.StatusNotLoaded})
	d.AddTag(protocol.PlayerNickTag{Player: 0, Nick: []byte("silverfox")})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartAndStop(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if s.LocalAddr() == nil {
		t.Error("LocalAddr() = nil after Start")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}
}

func TestStartBindFailure(t *testing.T) {
	_, _, addr := startTestServer(t)

	cfg := testConfig()
	cfg.Server.UDPPort = int(addr.Port())
	s2 := NewUDPServer(cfg, testLogger(), lobby.NewRegistry(testLogger()), testMetrics)
	err := s2.Start()
	if err == nil {
		s2.Stop()
		t.Fatal("Start() expected error for occupied port, got none")
	}
	if !errors.Is(err, ErrBindFailure) {
		t.Errorf("Start() error = %v, want %v", err, ErrBindFailure)
	}
}

func TestHelloRegistersLobby(t *testing.T) {
	_, registry, addr := startTestServer(t)

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(helloDatagram().Encode()); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}

	waitFor(t, "lobby registration", func() bool { return registry.Len() == 1 })
}

func TestGoodbyeRemovesLobby(t *testing.T) {
	_, registry, addr := startTestServer(t)

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(helloDatagram().Encode()); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}
	waitFor(t, "lobby registration", func() bool { return registry.Len() == 1 })

	goodbye := protocol.NewDatagram(protocol.CommandGoodbye)
	if _, err := client.Write(goodbye.Encode()); err != nil {
		t.Fatalf("failed to send goodbye: %v", err)
	}
	waitFor(t, "lobby removal", func() bool { return registry.Len() == 0 })
}

func TestMalformedPacketIsDropped(t *testing.T) {
	s, registry, addr := startTestServer(t)

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}

	waitFor(t, "parse error", func() bool { return s.GetStatistics().ParseErrors >= 1 })
	if registry.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after malformed packet", registry.Len())
	}
}

func TestQueryEndToEnd(t *testing.T) {
	_, registry, addr := startTestServer(t)

	// Client A announces a lobby
	host, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer host.Close()

	if _, err := host.Write(helloDatagram().Encode()); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}
	waitFor(t, "lobby registration", func() bool { return registry.Len() == 1 })

	// Client B queries for lobbies
	seeker, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer seeker.Close()

	query := protocol.NewDatagram(protocol.CommandQuery)
	query.SetQueryID(42)
	query.AddTag(protocol.ResponseCountTag{Count: 500})
	query.AddTag(protocol.QueryStringTag{})
	if _, err := seeker.Write(query.Encode()); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}

	seeker.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8192)
	n, err := seeker.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	resp, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}
	if resp.Command != protocol.CommandResponse {
		t.Errorf("Command = %s, want %s", resp.Command, protocol.CommandResponse)
	}
	id, ok := resp.QueryID()
	if !ok || id != 42 {
		t.Errorf("QueryID() = (%d, %v), want (42, true)", id, ok)
	}

	hostPort := host.LocalAddr().(*net.UDPAddr).AddrPort()
	wantHost := netip.AddrPortFrom(hostPort.Addr().Unmap(), 19567)

	var index, count *uint16
	var hostSeen bool
	for _, tag := range resp.Tags {
		switch v := tag.(type) {
		case protocol.ResponseIndexTag:
			index = &v.Index
		case protocol.ResponseCountTag:
			count = &v.Count
		case protocol.PlayerIPPortTag:
			if v.Player == 0 {
				hostSeen = true
				if v.Addr != wantHost {
					t.Errorf("host address = %s, want %s", v.Addr, wantHost)
				}
			}
		}
	}
	if index == nil || *index != 0 {
		t.Errorf("response index = %v, want 0", index)
	}
	if count == nil || *count != 1 {
		t.Errorf("response count = %v, want 1", count)
	}
	if !hostSeen {
		t.Error("response contains no host address tag")
	}
}

func TestQueryEmptyRegistry(t *testing.T) {
	_, _, addr := startTestServer(t)

	seeker, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer seeker.Close()

	query := protocol.NewDatagram(protocol.CommandQuery)
	query.SetQueryID(7)
	if _, err := seeker.Write(query.Encode()); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}

	seeker.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8192)
	n, err := seeker.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	resp, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}
	id, ok := resp.QueryID()
	if !ok || id != 7 {
		t.Errorf("QueryID() = (%d, %v), want (7, true)", id, ok)
	}
	if len(resp.Tags) != 1 {
		t.Fatalf("len(Tags) = %d, want 1", len(resp.Tags))
	}
	count, ok := resp.Tags[0].(protocol.ResponseCountTag)
	if !ok || count.Count != 0 {
		t.Errorf("Tags[0] = %#v, want response count 0", resp.Tags[0])
	}
}

func TestQueryWithoutIDIsDropped(t *testing.T) {
	s, _, addr := startTestServer(t)

	before := s.GetStatistics().ResponsesSent

	seeker, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer seeker.Close()

	query := protocol.NewDatagram(protocol.CommandQuery)
	if _, err := seeker.Write(query.Encode()); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}

	waitFor(t, "query processing", func() bool {
		return s.GetStatistics().PacketsProcessed >= 1
	})
	if sent := s.GetStatistics().ResponsesSent; sent != before {
		t.Errorf("ResponsesSent = %d, want %d for id-less query", sent, before)
	}
}

func TestHelloFromIPv6SourceIsDropped(t *testing.T) {
	s, registry := newTestServer(t)

	packet := &incomingPacket{
		data:       helloDatagram().Encode(),
		remoteAddr: netip.MustParseAddrPort("[2001:db8::1]:40000"),
		timestamp:  time.Now(),
	}
	s.handlePacket(packet, 0)

	if registry.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for IPv6 announcement", registry.Len())
	}
}

func TestStopUnderLoad(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	addr := s.LocalAddr().(*net.UDPAddr).AddrPort()

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()

	// Keep traffic flowing while the server shuts down
	done := make(chan struct{})
	go func() {
		defer close(done)
		wire := helloDatagram().Encode()
		for i := 0; i < 500; i++ {
			if _, err := client.Write(wire); err != nil {
				return
			}
		}
	}()

	waitFor(t, "some traffic", func() bool { return s.GetStatistics().PacketsReceived >= 1 })
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}
	<-done
}

func TestExpirySweep(t *testing.T) {
	cfg := testConfig()
	cfg.Tracker.SweepSeconds = 1
	registry := lobby.NewRegistry(testLogger())
	s := NewUDPServer(cfg, testLogger(), registry, testMetrics)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	defer s.Stop()

	addr := s.LocalAddr().(*net.UDPAddr).AddrPort()
	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(helloDatagram().Encode()); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}
	waitFor(t, "lobby registration", func() bool { return registry.Len() == 1 })

	// A fresh lobby must survive at least one sweep
	time.Sleep(1200 * time.Millisecond)
	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after sweep of fresh lobby", registry.Len())
	}
}
