// Package protocol implements the binary codec for the Warcraft III game
// protocol (W3GS) and the GProxy reconnect protocol (GPS). Both families use
// the same framing: [header][packet id][LE uint16 total length][payload].
package protocol

import (
	"encoding/binary"
	"errors"
)

// Header constants discriminating the two packet families.
const (
	W3GSHeader byte = 0xF7 // game protocol
	GPSHeader  byte = 0xF8 // GProxy reconnect protocol
)

// W3GS packet ids.
const (
	PktPingFromHost     byte = 0x01 // host -> client
	PktSlotInfoJoin     byte = 0x04 // host -> client, join accepted
	PktRejectJoin       byte = 0x05 // host -> client
	PktPlayerInfo       byte = 0x06 // host -> client
	PktPlayerLeaveOther byte = 0x07 // host -> client
	PktGameLoadedOther  byte = 0x08 // host -> client
	PktSlotInfo         byte = 0x09 // host -> client
	PktCountdownStart   byte = 0x0A // host -> client
	PktCountdownEnd     byte = 0x0B // host -> client
	PktIncomingAction   byte = 0x0C // host -> client
	PktChatFromHost     byte = 0x0F // host -> client
	PktStartLag         byte = 0x10 // host -> client
	PktStopLag          byte = 0x11 // host -> client
	PktHostKickPlayer   byte = 0x1C // host -> client
	PktReqJoin          byte = 0x1E // client -> host
	PktLeaveGame        byte = 0x21 // client -> host
	PktGameLoadedSelf   byte = 0x23 // client -> host
	PktOutgoingAction   byte = 0x26 // client -> host
	PktKeepAlive        byte = 0x27 // client -> host
	PktChatToHost       byte = 0x28 // client -> host
	PktDropReq          byte = 0x29 // client -> host
	PktSearchGame       byte = 0x2F // LAN, client -> host
	PktGameInfo         byte = 0x30 // LAN, host -> client
	PktCreateGame       byte = 0x31 // LAN
	PktRefreshGame      byte = 0x32 // LAN
	PktDecreateGame     byte = 0x33 // LAN
	PktMapCheck         byte = 0x3D // host -> client
	PktStartDownload    byte = 0x3F // host -> client
	PktMapSize          byte = 0x42 // client -> host
	PktMapPart          byte = 0x43 // host -> client
	PktMapPartOK        byte = 0x44 // client -> host
	PktMapPartNotOK     byte = 0x45 // client -> host
	PktPongToHost       byte = 0x46 // client -> host
	PktIncomingAction2  byte = 0x48 // host -> client, overflow actions
)

// GPS packet ids. The same ids are used in both directions with different
// payloads.
const (
	GPSInitID      byte = 1
	GPSReconnectID byte = 2
	GPSAckID       byte = 3
	GPSRejectID    byte = 4
)

// Join reject reasons.
const (
	RejectFull          uint32 = 9
	RejectStarted       uint32 = 10
	RejectWrongPassword uint32 = 27
)

// Leave codes broadcast in PLAYERLEAVE_OTHERS.
const (
	LeaveDisconnect    uint32 = 1
	LeaveLost          uint32 = 7
	LeaveLostBuildings uint32 = 8
	LeaveWon           uint32 = 9
	LeaveDraw          uint32 = 10
	LeaveObserver      uint32 = 11
	LeaveLobby         uint32 = 13
	LeaveGProxy        uint32 = 100
)

// GPS reject reasons.
const (
	GPSRejectInvalid  uint32 = 1
	GPSRejectNotFound uint32 = 2
)

// Chat flags of CHAT_TO_HOST / CHAT_FROM_HOST.
const (
	ChatMessage        byte = 16
	ChatTeamChange     byte = 17
	ChatColourChange   byte = 18
	ChatRaceChange     byte = 19
	ChatHandicapChange byte = 20
	ChatMessageExtra   byte = 32
)

const (
	// HeaderSize is the framing overhead of every packet.
	HeaderSize = 4

	// MaxPacketSize is the largest length the framing can express.
	MaxPacketSize = 65535

	// MapPartSize is the number of map bytes carried by one MAPPART packet.
	MapPartSize = 1442

	// ActionBatchLimit is the largest action sub-batch that fits one
	// INCOMING_ACTION packet.
	ActionBatchLimit = 1452
)

var (
	// ErrShortPacket is returned when a payload ends before a fixed field.
	ErrShortPacket = errors.New("packet too short")
	// ErrBadLength is returned when the length field disagrees with the data.
	ErrBadLength = errors.New("packet length mismatch")
	// ErrUnknownPacket is returned for ids the host does not handle.
	ErrUnknownPacket = errors.New("unknown packet")
)

// Packet is one framed packet. Data holds the complete bytes, header included.
type Packet struct {
	Header byte
	ID     byte
	Data   []byte
}

// Payload returns the bytes following the 4-byte frame header.
func (p Packet) Payload() []byte {
	if len(p.Data) < HeaderSize {
		return nil
	}
	return p.Data[HeaderSize:]
}

// KnownHeader reports whether b starts one of the two packet families.
func KnownHeader(b byte) bool {
	return b == W3GSHeader || b == GPSHeader
}

// ValidateLength reports whether the length field of b equals len(b).
func ValidateLength(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	return int(binary.LittleEndian.Uint16(b[2:4])) == len(b)
}

// NextPacket slices the first complete packet off buf. It returns ok=false,
// consuming nothing, when fewer than 4 bytes are buffered, the header byte is
// unknown, the declared length is below 4, or the packet is incomplete.
func NextPacket(buf []byte) (pkt Packet, n int, ok bool) {
	if len(buf) < HeaderSize || !KnownHeader(buf[0]) {
		return Packet{}, 0, false
	}
	length := int(binary.LittleEndian.Uint16(buf[2:4]))
	if length < HeaderSize || length > len(buf) {
		return Packet{}, 0, false
	}
	data := make([]byte, length)
	copy(data, buf[:length])
	return Packet{Header: data[0], ID: data[1], Data: data}, length, true
}
