package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Decode errors. All are recoverable; malformed wire input never panics.
var (
	ErrDatagramBoundary       = errors.New("unexpected datagram boundary")
	ErrMissingProtocolVersion = errors.New("datagram contains no protocol version tag")
	ErrMissingCommand         = errors.New("datagram contains no command tag")
	ErrInvalidTag             = errors.New("invalid tag")
	ErrInvalidCommand         = errors.New("invalid command")
	ErrInvalidGameStatus      = errors.New("invalid game status")
	ErrInvalidPlayerIndex     = errors.New("invalid player index")
)

// Decode parses a byte sequence into a Datagram. Tags are scanned left to
// right; zero bytes between tags are padding and skipped. ProtocolVersion,
// Command, and QueryID tags are intercepted into their dedicated slots, all
// other recognized tags are kept in order. Version and command presence is
// checked only after the whole buffer is scanned, so structural errors take
// precedence.
func Decode(buf []byte) (*Datagram, error) {
	var (
		d           Datagram
		haveVersion bool
		haveCommand bool
	)

	for i := 0; i < len(buf); {
		if buf[i] == idNull {
			i++
			continue
		}

		if i+1 >= len(buf) {
			return nil, fmt.Errorf("%w: tag 0x%02x has no length byte", ErrDatagramBoundary, buf[i])
		}
		payloadLen := int(buf[i+1])
		end := i + 2 + payloadLen
		if end > len(buf) {
			return nil, fmt.Errorf("%w: tag 0x%02x declares %d payload bytes, %d remain",
				ErrDatagramBoundary, buf[i], payloadLen, len(buf)-i-2)
		}

		tag, err := decodeTag(buf[i], buf[i+2:end])
		if err != nil {
			return nil, err
		}

		switch t := tag.(type) {
		case ProtocolVersionTag:
			d.ProtocolVersion = t.Version
			haveVersion = true
		case CommandTag:
			d.Command = t.Command
			haveCommand = true
		case QueryIDTag:
			d.SetQueryID(t.ID)
		default:
			d.Tags = append(d.Tags, tag)
		}
		i = end
	}

	if !haveVersion {
		return nil, ErrMissingProtocolVersion
	}
	if !haveCommand {
		return nil, ErrMissingCommand
	}
	return &d, nil
}

// decodeTag parses one tag's payload according to its type code. Every type
// has a fixed expected payload shape; mismatches and unknown codes fail with
// ErrInvalidTag or a more specific error.
func decodeTag(id byte, payload []byte) (Tag, error) {
	switch id {
	case idCommand:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: payload is %d bytes, want 1", ErrInvalidCommand, len(payload))
		}
		command := Command(payload[0])
		if command > CommandGoodbye {
			return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidCommand, payload[0])
		}
		return CommandTag{Command: command}, nil

	case idQueryID:
		v, err := decodeUint32(payload)
		if err != nil {
			return nil, err
		}
		return QueryIDTag{ID: v}, nil

	case idQueryString:
		return QueryStringTag{Value: cloneBytes(payload)}, nil

	case idHostDomain:
		return HostDomainTag{Value: cloneBytes(payload)}, nil

	case idResponseIndex:
		v, err := decodeUint16(payload)
		if err != nil {
			return nil, err
		}
		return ResponseIndexTag{Index: v}, nil

	case idResponseCount:
		v, err := decodeUint16(payload)
		if err != nil {
			return nil, err
		}
		return ResponseCountTag{Count: v}, nil

	case idStatusMessage:
		return StatusMessageTag{Value: cloneBytes(payload)}, nil

	case idInfoMessage:
		return InfoMessageTag{Value: cloneBytes(payload)}, nil

	case idInvitation:
		return InvitationTag{Value: cloneBytes(payload)}, nil

	case idHasPassword:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: has-password payload is %d bytes, want 0", ErrInvalidTag, len(payload))
		}
		return HasPasswordTag{}, nil

	case idPlayerLimit:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: player-limit payload is %d bytes, want 1", ErrInvalidTag, len(payload))
		}
		return PlayerLimitTag{Limit: payload[0]}, nil

	case idGameStatus:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: payload is %d bytes, want 1", ErrInvalidGameStatus, len(payload))
		}
		status := GameStatus(payload[0])
		if status > StatusPaused {
			return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidGameStatus, payload[0])
		}
		return GameStatusTag{Status: status}, nil

	case idLevelDirectory:
		return LevelDirectoryTag{Value: cloneBytes(payload)}, nil

	case idLevelName:
		return LevelNameTag{Value: cloneBytes(payload)}, nil

	case idProtocolVersion:
		v, err := decodeUint16(payload)
		if err != nil {
			return nil, err
		}
		return ProtocolVersionTag{Version: v}, nil

	case idSoftwareVersion:
		return SoftwareVersionTag{Value: cloneBytes(payload)}, nil

	case idPlayerIPPort:
		if len(payload) != 7 {
			return nil, fmt.Errorf("%w: player-address payload is %d bytes, want 7", ErrInvalidTag, len(payload))
		}
		player, err := decodePlayerID(payload[0])
		if err != nil {
			return nil, err
		}
		addr := netip.AddrFrom4([4]byte(payload[1:5]))
		port := binary.BigEndian.Uint16(payload[5:7])
		return PlayerIPPortTag{Player: player, Addr: netip.AddrPortFrom(addr, port)}, nil

	case idPlayerNick:
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: player-nick payload is empty", ErrInvalidTag)
		}
		player, err := decodePlayerID(payload[0])
		if err != nil {
			return nil, err
		}
		return PlayerNickTag{Player: player, Nick: cloneBytes(payload[1:])}, nil

	case idPlayerLives:
		if len(payload) != 3 {
			return nil, fmt.Errorf("%w: player-lives payload is %d bytes, want 3", ErrInvalidTag, len(payload))
		}
		player, err := decodePlayerID(payload[0])
		if err != nil {
			return nil, err
		}
		return PlayerLivesTag{Player: player, Lives: binary.BigEndian.Uint16(payload[1:3])}, nil

	case idPlayerLocation:
		if len(payload) != 5 {
			return nil, fmt.Errorf("%w: player-location payload is %d bytes, want 5", ErrInvalidTag, len(payload))
		}
		player, err := decodePlayerID(payload[0])
		if err != nil {
			return nil, err
		}
		x := int16(binary.BigEndian.Uint16(payload[1:3]))
		y := int16(binary.BigEndian.Uint16(payload[3:5]))
		return PlayerLocationTag{Player: player, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type code 0x%02x", ErrInvalidTag, id)
	}
}

func decodeUint16(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("%w: payload is %d bytes, want 2", ErrInvalidTag, len(payload))
	}
	return binary.BigEndian.Uint16(payload), nil
}

func decodeUint32(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: payload is %d bytes, want 4", ErrInvalidTag, len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

func decodePlayerID(b byte) (PlayerID, error) {
	if b >= MaxPlayers {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPlayerIndex, b)
	}
	return PlayerID(b), nil
}

// cloneBytes copies payload bytes out of the receive buffer so decoded tags
// stay valid after the buffer is reused.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
