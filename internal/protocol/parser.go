package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// ReqJoin is a client's join request.
type ReqJoin struct {
	HostCounter uint32
	EntryKey    uint32
	ListenPort  uint16
	PeerKey     uint32
	Name        string
	InternalIP  net.IP
}

// HostCounterID returns the realm id encoded in the top 4 bits of the host
// counter. Zero means the client found the game on the LAN.
func (r *ReqJoin) HostCounterID() uint8 {
	return uint8(r.HostCounter >> 28)
}

// LeaveGameRequest is a client's voluntary leave.
type LeaveGameRequest struct {
	Reason uint32
}

// GameLoaded is sent once by each client when it finished loading.
type GameLoaded struct{}

// IncomingAction is one action received from a player.
type IncomingAction struct {
	PID    byte
	CRC    uint32
	Action []byte
}

// KeepAliveReport carries a client's game state checksum for one sync frame.
type KeepAliveReport struct {
	Checksum uint32
}

// DropRequest is a vote to drop the players on the lag screen.
type DropRequest struct{}

// MapSize is the client's map state. SizeFlag 1 with the correct size means
// the client has the map.
type MapSize struct {
	SizeFlag byte
	MapSize  uint32
}

// Pong is the client's answer to a host ping.
type Pong struct {
	Ticks uint32
}

// MapPartAck acknowledges received map parts.
type MapPartAck struct{}

// Parse decodes a W3GS packet sent by a client into one of the message
// types of this package. Malformed and unknown packets return an error and
// must be dropped by the caller.
func Parse(p Packet, pid byte) (any, error) {
	if p.Header != W3GSHeader {
		return nil, fmt.Errorf("%w: header 0x%02X", ErrUnknownPacket, p.Header)
	}
	if !ValidateLength(p.Data) {
		return nil, ErrBadLength
	}

	var msg any
	switch p.ID {
	case PktReqJoin:
		if m := DecodeReqJoin(p.Data); m != nil {
			msg = m
		}
	case PktLeaveGame:
		if m := DecodeLeaveGame(p.Data); m != nil {
			msg = m
		}
	case PktGameLoadedSelf:
		if DecodeGameLoadedSelf(p.Data) {
			msg = &GameLoaded{}
		}
	case PktOutgoingAction:
		if m := DecodeOutgoingAction(p.Data, pid); m != nil {
			msg = m
		}
	case PktKeepAlive:
		if m := DecodeKeepAlive(p.Data); m != nil {
			msg = m
		}
	case PktChatToHost:
		if m := DecodeChatToHost(p.Data); m != nil {
			msg = m
		}
	case PktDropReq:
		msg = &DropRequest{}
	case PktMapSize:
		if m := DecodeMapSize(p.Data); m != nil {
			msg = m
		}
	case PktPongToHost:
		if m := DecodePongToHost(p.Data); m != nil {
			msg = m
		}
	case PktMapPartOK, PktMapPartNotOK:
		msg = &MapPartAck{}
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownPacket, p.ID)
	}

	if msg == nil {
		return nil, fmt.Errorf("malformed packet 0x%02X: %w", p.ID, ErrShortPacket)
	}
	return msg, nil
}

// readCString reads a null-terminated string.
func readCString(r *bytes.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("unterminated string: %w", ErrShortPacket)
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}

// readIP reads 4 raw address bytes.
func readIP(r *bytes.Reader) (net.IP, error) {
	ip := make([]byte, 4)
	if _, err := io.ReadFull(r, ip); err != nil {
		return nil, fmt.Errorf("failed to read address: %w", ErrShortPacket)
	}
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).To4(), nil
}

// payloadReader validates the frame and returns a reader positioned after the
// header.
func payloadReader(data []byte) *bytes.Reader {
	if !ValidateLength(data) {
		return nil
	}
	return bytes.NewReader(data[HeaderSize:])
}

// DecodeReqJoin decodes REQJOIN. It returns nil when the packet is malformed.
func DecodeReqJoin(data []byte) *ReqJoin {
	r := payloadReader(data)
	if r == nil || len(data) < 20 {
		return nil
	}
	m, err := parseReqJoin(r)
	if err != nil {
		return nil
	}
	return m
}

func parseReqJoin(r *bytes.Reader) (*ReqJoin, error) {
	m := &ReqJoin{}
	var unknown byte
	if err := binary.Read(r, binary.LittleEndian, &m.HostCounter); err != nil {
		return nil, fmt.Errorf("failed to parse host counter: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.EntryKey); err != nil {
		return nil, fmt.Errorf("failed to parse entry key: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &unknown); err != nil {
		return nil, fmt.Errorf("failed to parse join flags: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.ListenPort); err != nil {
		return nil, fmt.Errorf("failed to parse listen port: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.PeerKey); err != nil {
		return nil, fmt.Errorf("failed to parse peer key: %w", err)
	}
	name, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse player name: %w", err)
	}
	m.Name = name

	// 4 unknown bytes and the internal port precede the internal address.
	skip := make([]byte, 6)
	if err := binary.Read(r, binary.LittleEndian, skip); err != nil {
		return nil, fmt.Errorf("failed to parse internal port: %w", err)
	}
	ip, err := readIP(r)
	if err != nil {
		return nil, err
	}
	m.InternalIP = ip
	return m, nil
}

// DecodeLeaveGame decodes LEAVEGAME.
func DecodeLeaveGame(data []byte) *LeaveGameRequest {
	r := payloadReader(data)
	if r == nil {
		return nil
	}
	m := &LeaveGameRequest{}
	if err := binary.Read(r, binary.LittleEndian, &m.Reason); err != nil {
		return nil
	}
	return m
}

// DecodeGameLoadedSelf reports whether data is a well-formed GAMELOADED_SELF.
func DecodeGameLoadedSelf(data []byte) bool {
	return ValidateLength(data) && len(data) == HeaderSize
}

// DecodeOutgoingAction decodes OUTGOING_ACTION and tags it with the sender.
// pid 255 (unknown sender) is rejected.
func DecodeOutgoingAction(data []byte, pid byte) *IncomingAction {
	if pid == 255 {
		return nil
	}
	r := payloadReader(data)
	if r == nil {
		return nil
	}
	m := &IncomingAction{PID: pid}
	if err := binary.Read(r, binary.LittleEndian, &m.CRC); err != nil {
		return nil
	}
	m.Action = make([]byte, r.Len())
	r.Read(m.Action)
	return m
}

// DecodeKeepAlive decodes OUTGOING_KEEPALIVE, which has a fixed size of 9.
func DecodeKeepAlive(data []byte) *KeepAliveReport {
	if !ValidateLength(data) || len(data) != 9 {
		return nil
	}
	return &KeepAliveReport{Checksum: binary.LittleEndian.Uint32(data[5:9])}
}

// DecodeMapSize decodes MAPSIZE.
func DecodeMapSize(data []byte) *MapSize {
	if !ValidateLength(data) || len(data) < 13 {
		return nil
	}
	return &MapSize{
		SizeFlag: data[8],
		MapSize:  binary.LittleEndian.Uint32(data[9:13]),
	}
}

// DecodePongToHost decodes PONG_TO_HOST.
func DecodePongToHost(data []byte) *Pong {
	if !ValidateLength(data) || len(data) < 8 {
		return nil
	}
	return &Pong{Ticks: binary.LittleEndian.Uint32(data[4:8])}
}
