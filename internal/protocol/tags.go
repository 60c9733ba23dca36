package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	// Version is the protocol version this tracker speaks.
	Version uint16 = 6

	// MaxPlayers is the number of player slots a lobby can report.
	MaxPlayers = 6
)

// Wire type codes. Code 0 is reserved padding: skipped on decode,
// never emitted by the encoder.
const (
	idNull            byte = 0
	idCommand         byte = 1
	idQueryID         byte = 2
	idQueryString     byte = 3
	idHostDomain      byte = 4
	idResponseIndex   byte = 5
	idResponseCount   byte = 6
	idStatusMessage   byte = 7
	idInfoMessage     byte = 8
	idInvitation      byte = 9
	idHasPassword     byte = 10
	idPlayerLimit     byte = 11
	idGameStatus      byte = 12
	idLevelDirectory  byte = 13
	idLevelName       byte = 14
	idProtocolVersion byte = 15
	idSoftwareVersion byte = 16
	idPlayerLocation  byte = 252
	idPlayerLives     byte = 253
	idPlayerNick      byte = 254
	idPlayerIPPort    byte = 255
)

// Command identifies what a datagram asks the tracker to do.
type Command uint8

const (
	CommandQuery Command = iota
	CommandResponse
	CommandHello
	CommandGoodbye
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CommandQuery:
		return "Query"
	case CommandResponse:
		return "Response"
	case CommandHello:
		return "Hello"
	case CommandGoodbye:
		return "Goodbye"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// GameStatus reports how far along a hosted game is.
type GameStatus uint8

const (
	StatusNotLoaded GameStatus = iota
	StatusLoaded
	StatusActive
	StatusPaused
)

// String returns a human-readable name for the game status.
func (g GameStatus) String() string {
	switch g {
	case StatusNotLoaded:
		return "NotLoaded"
	case StatusLoaded:
		return "Loaded"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(g))
	}
}

// PlayerID is a validated index identifying one of the player slots.
// Slot 0 is always the reporting host.
type PlayerID uint8

// NewPlayerID builds a PlayerID, rejecting indexes outside [0, MaxPlayers).
func NewPlayerID(id uint8) (PlayerID, error) {
	if id >= MaxPlayers {
		return 0, fmt.Errorf("player id %d out of range [0, %d)", id, MaxPlayers)
	}
	return PlayerID(id), nil
}

// Tag is one typed field within a Datagram. The set of implementations is
// closed; it mirrors the wire protocol's fixed tag enumeration.
type Tag interface {
	// Encode appends the tag's full wire form, [type][len][payload], to dst
	// and returns the extended slice.
	Encode(dst []byte) []byte
}

// CommandTag carries the datagram's command. Datagram encoding synthesizes
// it; decoding intercepts it into the Command slot.
type CommandTag struct {
	Command Command
}

// QueryIDTag carries a client-chosen id echoed back in responses. Datagram
// encoding synthesizes it; decoding intercepts it into the query-id slot.
type QueryIDTag struct {
	ID uint32
}

// QueryStringTag carries a search term. The tracker accepts it but does not
// filter on it.
type QueryStringTag struct {
	Value []byte
}

// HostDomainTag carries a host's self-reported domain name.
type HostDomainTag struct {
	Value []byte
}

// ResponseIndexTag is the 0-based position of a response within its batch.
type ResponseIndexTag struct {
	Index uint16
}

// ResponseCountTag is the total number of responses in a batch.
type ResponseCountTag struct {
	Count uint16
}

// StatusMessageTag carries a status line shown to querying clients.
type StatusMessageTag struct {
	Value []byte
}

// InfoMessageTag carries an informational message shown to querying clients.
type InfoMessageTag struct {
	Value []byte
}

// InvitationTag carries the host's invitation text.
type InvitationTag struct {
	Value []byte
}

// HasPasswordTag flags a password-protected lobby. It has no payload.
type HasPasswordTag struct{}

// PlayerLimitTag is the maximum number of players the lobby admits.
type PlayerLimitTag struct {
	Limit uint8
}

// GameStatusTag reports the hosted game's load state.
type GameStatusTag struct {
	Status GameStatus
}

// LevelDirectoryTag names the directory of the level in play.
type LevelDirectoryTag struct {
	Value []byte
}

// LevelNameTag names the level in play.
type LevelNameTag struct {
	Value []byte
}

// ProtocolVersionTag carries the wire protocol version. Datagram encoding
// synthesizes it; decoding intercepts it into the version slot.
type ProtocolVersionTag struct {
	Version uint16
}

// SoftwareVersionTag carries the sender's software version string.
type SoftwareVersionTag struct {
	Value []byte
}

// PlayerIPPortTag is a player slot's IPv4 address and port. For slot 0 the
// address is self-reported and may be a private one; the tracker substitutes
// the observed source address when registering a lobby.
type PlayerIPPortTag struct {
	Player PlayerID
	Addr   netip.AddrPort
}

// PlayerNickTag is a player slot's nickname.
type PlayerNickTag struct {
	Player PlayerID
	Nick   []byte
}

// PlayerLivesTag is a player slot's remaining lives.
type PlayerLivesTag struct {
	Player PlayerID
	Lives  uint16
}

// PlayerLocationTag is a player slot's signed in-game coordinates.
type PlayerLocationTag struct {
	Player PlayerID
	X, Y   int16
}

// appendBytesTag wraps a raw byte payload as [id][len][payload]. Payloads
// longer than 255 bytes cannot be represented; callers hold that contract.
func appendBytesTag(dst []byte, id byte, value []byte) []byte {
	dst = append(dst, id, byte(len(value)))
	return append(dst, value...)
}

func (t CommandTag) Encode(dst []byte) []byte {
	return append(dst, idCommand, 1, byte(t.Command))
}

func (t QueryIDTag) Encode(dst []byte) []byte {
	dst = append(dst, idQueryID, 4)
	return binary.BigEndian.AppendUint32(dst, t.ID)
}

func (t QueryStringTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idQueryString, t.Value)
}

func (t HostDomainTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idHostDomain, t.Value)
}

func (t ResponseIndexTag) Encode(dst []byte) []byte {
	dst = append(dst, idResponseIndex, 2)
	return binary.BigEndian.AppendUint16(dst, t.Index)
}

func (t ResponseCountTag) Encode(dst []byte) []byte {
	dst = append(dst, idResponseCount, 2)
	return binary.BigEndian.AppendUint16(dst, t.Count)
}

func (t StatusMessageTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idStatusMessage, t.Value)
}

func (t InfoMessageTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idInfoMessage, t.Value)
}

func (t InvitationTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idInvitation, t.Value)
}

func (t HasPasswordTag) Encode(dst []byte) []byte {
	return append(dst, idHasPassword, 0)
}

func (t PlayerLimitTag) Encode(dst []byte) []byte {
	return append(dst, idPlayerLimit, 1, t.Limit)
}

func (t GameStatusTag) Encode(dst []byte) []byte {
	return append(dst, idGameStatus, 1, byte(t.Status))
}

func (t LevelDirectoryTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idLevelDirectory, t.Value)
}

func (t LevelNameTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idLevelName, t.Value)
}

func (t ProtocolVersionTag) Encode(dst []byte) []byte {
	dst = append(dst, idProtocolVersion, 2)
	return binary.BigEndian.AppendUint16(dst, t.Version)
}

func (t SoftwareVersionTag) Encode(dst []byte) []byte {
	return appendBytesTag(dst, idSoftwareVersion, t.Value)
}

func (t PlayerIPPortTag) Encode(dst []byte) []byte {
	ip := t.Addr.Addr().Unmap().As4()
	dst = append(dst, idPlayerIPPort, 7, byte(t.Player))
	dst = append(dst, ip[:]...)
	return binary.BigEndian.AppendUint16(dst, t.Addr.Port())
}

func (t PlayerNickTag) Encode(dst []byte) []byte {
	dst = append(dst, idPlayerNick, byte(1+len(t.Nick)), byte(t.Player))
	return append(dst, t.Nick...)
}

func (t PlayerLivesTag) Encode(dst []byte) []byte {
	dst = append(dst, idPlayerLives, 3, byte(t.Player))
	return binary.BigEndian.AppendUint16(dst, t.Lives)
}

func (t PlayerLocationTag) Encode(dst []byte) []byte {
	dst = append(dst, idPlayerLocation, 5, byte(t.Player))
	dst = binary.BigEndian.AppendUint16(dst, uint16(t.X))
	return binary.BigEndian.AppendUint16(dst, uint16(t.Y))
}
