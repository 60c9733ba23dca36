package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rherriman/ratd/internal/config"
	"github.com/rherriman/ratd/internal/lobby"
	"github.com/rherriman/ratd/internal/metrics"
	"github.com/rherriman/ratd/internal/protocol"
)

// ErrBindFailure wraps errors from binding the UDP socket so callers can
// distinguish them from other startup failures.
var ErrBindFailure = errors.New("failed to bind UDP socket")

// UDPServer receives tracker datagrams, dispatches them to a worker pool,
// and periodically expires stale lobbies.
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.Config
	logger   *slog.Logger
	registry *lobby.Registry
	metrics  *metrics.Metrics

	// Concurrency management. The receiver has its own WaitGroup so
	// shutdown can join it before closing the job channel it sends on.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	recvWG sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	// Statistics
	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	responsesSent    uint64
	mu               sync.RWMutex
}

// incomingPacket is one received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr netip.AddrPort
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.Config, logger *slog.Logger, registry *lobby.Registry, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, cfg.Tracker.QueueSize),
	}
}

// Start binds the UDP socket and launches the receive loop, the worker
// pool, and the expiry sweeper.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.UDPPort))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailure, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailure, err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.Server.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.Server.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("workers", s.config.Tracker.Workers),
		slog.Int("buffer_size", s.config.Server.BufferSize),
	)

	for i := 0; i < s.config.Tracker.Workers; i++ {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.recvWG.Add(1)
	go s.receiveLoop()

	s.wg.Add(1)
	go s.expiryLoop()

	return nil
}

// LocalAddr returns the bound UDP address, or nil before Start.
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Close the connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// Join the receiver before closing the channel it sends on
	s.recvWG.Wait()
	close(s.packetChan)
	s.wg.Wait()

	s.mu.RLock()
	packetsReceived := s.packetsReceived
	packetsProcessed := s.packetsProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.recvWG.Done()

	buffer := make([]byte, s.config.Server.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Wake up periodically so the context check above runs
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// The receive buffer is reused, so copy the payload out
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.metrics.RecordPacketDropped()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket decodes one datagram and routes it by command
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	datagram, err := protocol.Decode(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to decode datagram",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()

	switch datagram.Command {
	case protocol.CommandQuery:
		s.processQuery(packet, datagram, workerID)
	case protocol.CommandResponse:
		// Trackers only issue responses, never act on them
		s.logger.Debug("Ignoring response datagram",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("worker_id", workerID),
		)
	case protocol.CommandHello:
		s.processHello(packet, datagram, workerID)
	case protocol.CommandGoodbye:
		s.processGoodbye(packet, workerID)
	}
}

// processQuery answers a lobby query with one response datagram per match
func (s *UDPServer) processQuery(packet *incomingPacket, datagram *protocol.Datagram, workerID int) {
	queryID, ok := datagram.QueryID()
	if !ok {
		s.logger.Warn("Query datagram carries no query id, dropping",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	responses := s.registry.Search("", queryID, s.config.Tracker.ResponseLimit)
	sent := 0
	for _, wire := range responses {
		if _, err := s.conn.WriteToUDPAddrPort(wire, packet.remoteAddr); err != nil {
			s.metrics.RecordSendError()
			s.logger.Error("Failed to send response",
				slog.String("remote_addr", packet.remoteAddr.String()),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
			)
			continue
		}
		sent++
		s.metrics.RecordResponseSent()
	}

	s.mu.Lock()
	s.responsesSent += uint64(sent)
	s.mu.Unlock()
	s.metrics.RecordQueryServed(sent)

	s.logger.Debug("Query served",
		slog.String("remote_addr", packet.remoteAddr.String()),
		slog.Uint64("query_id", uint64(queryID)),
		slog.Int("responses", sent),
		slog.Int("worker_id", workerID),
	)
}

// processHello registers or refreshes the sender's lobby
func (s *UDPServer) processHello(packet *incomingPacket, datagram *protocol.Datagram, workerID int) {
	l, err := lobby.New(packet.remoteAddr, datagram)
	if err != nil {
		s.logger.Error("Failed to build lobby from announcement",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.registry.Insert(l)
	s.metrics.RecordLobbyInserted()
	s.metrics.SetActiveLobbies(s.registry.Len())
}

// processGoodbye removes the sender's lobby
func (s *UDPServer) processGoodbye(packet *incomingPacket, workerID int) {
	if s.registry.Remove(packet.remoteAddr) {
		s.metrics.RecordLobbyRemoved()
		s.metrics.SetActiveLobbies(s.registry.Len())
	} else {
		s.logger.Debug("Goodbye from address with no lobby",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("worker_id", workerID),
		)
	}
}

// expiryLoop periodically removes lobbies that stopped announcing
func (s *UDPServer) expiryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tracker.GetSweepInterval())
	defer ticker.Stop()

	ttl := s.config.Tracker.GetLobbyTimeout()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if expired := s.registry.Expire(ttl); expired > 0 {
				s.metrics.RecordLobbiesExpired(expired)
				s.metrics.SetActiveLobbies(s.registry.Len())
				s.logger.Info("Expiry sweep removed stale lobbies",
					slog.Int("expired", expired),
					slog.Int("remaining", s.registry.Len()),
				)
			}
		}
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		ResponsesSent:    s.responsesSent,
		ActiveLobbies:    uint64(s.registry.Len()),
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	ResponsesSent    uint64 `json:"responses_sent"`
	ActiveLobbies    uint64 `json:"active_lobbies"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
