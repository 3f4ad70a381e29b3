package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
)

// PacketBuilder assembles a framed packet. The length field is written as
// zero and patched by BuildPacket.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder starts a packet of the given family and id.
func NewPacketBuilder(header, id byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Write([]byte{header, id, 0, 0})
	return b
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteIP writes an IPv4 address as 4 raw bytes; anything else is written as
// 0.0.0.0.
func (b *PacketBuilder) WriteIP(ip net.IP) *PacketBuilder {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	b.buf.Write(v4)
	return b
}

// BuildPacket backpatches the total length into bytes 2-3 and returns the
// packet.
func (b *PacketBuilder) BuildPacket() []byte {
	data := b.buf.Bytes()
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)))
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- W3GS host packets ----

// PingFromHost carries the host tick the client echoes in PONG_TO_HOST.
func PingFromHost(ticks uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktPingFromHost).WriteUint32(ticks).BuildPacket()
}

// SlotInfoJoin accepts a join: slot info block, the joiner's PID and its
// address as seen by the host.
func SlotInfoJoin(pid byte, port uint16, externalIP net.IP, slotInfo []byte) []byte {
	return NewPacketBuilder(W3GSHeader, PktSlotInfoJoin).
		WriteUint16(uint16(len(slotInfo))).
		WriteBytes(slotInfo).
		WriteUint8(pid).
		WriteUint16(2). // AF_INET
		WriteUint16(port).
		WriteIP(externalIP).
		WriteUint32(0).
		WriteUint32(0).
		BuildPacket()
}

// RejectJoin refuses a join request.
func RejectJoin(reason uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktRejectJoin).WriteUint32(reason).BuildPacket()
}

// PlayerInfo announces a player to the other occupants.
func PlayerInfo(pid byte, name string, externalIP, internalIP net.IP) []byte {
	return NewPacketBuilder(W3GSHeader, PktPlayerInfo).
		WriteUint32(2). // join counter
		WriteUint8(pid).
		WriteNullString(name).
		WriteUint16(1).
		WriteUint16(2). // AF_INET
		WriteUint16(0). // port
		WriteIP(externalIP).
		WriteUint32(0).
		WriteUint32(0).
		WriteUint16(2). // AF_INET
		WriteUint16(0). // port
		WriteIP(internalIP).
		WriteUint32(0).
		WriteUint32(0).
		BuildPacket()
}

// PlayerLeaveOthers announces that pid left with the given leave code.
func PlayerLeaveOthers(pid byte, leaveCode uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktPlayerLeaveOther).WriteUint8(pid).WriteUint32(leaveCode).BuildPacket()
}

// HostKickPlayer tells a client it was removed from the lobby.
func HostKickPlayer(leaveCode uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktHostKickPlayer).WriteUint32(leaveCode).BuildPacket()
}

// GameLoadedOthers announces that pid finished loading.
func GameLoadedOthers(pid byte) []byte {
	return NewPacketBuilder(W3GSHeader, PktGameLoadedOther).WriteUint8(pid).BuildPacket()
}

// SlotInfo broadcasts the slot table.
func SlotInfo(slotInfo []byte) []byte {
	return NewPacketBuilder(W3GSHeader, PktSlotInfo).
		WriteUint16(uint16(len(slotInfo))).
		WriteBytes(slotInfo).
		BuildPacket()
}

// CountdownStart starts the client countdown.
func CountdownStart() []byte {
	return NewPacketBuilder(W3GSHeader, PktCountdownStart).BuildPacket()
}

// CountdownEnd ends the countdown and makes the clients load the map.
func CountdownEnd() []byte {
	return NewPacketBuilder(W3GSHeader, PktCountdownEnd).BuildPacket()
}

// ChatFromHost relays a chat message or lobby notification. extraFlags is
// only sent with ChatMessageExtra.
func ChatFromHost(fromPID byte, toPIDs []byte, flag byte, extraFlags []byte, message string) []byte {
	b := NewPacketBuilder(W3GSHeader, PktChatFromHost).
		WriteUint8(byte(len(toPIDs))).
		WriteBytes(toPIDs).
		WriteUint8(fromPID).
		WriteUint8(flag)
	if flag == ChatMessageExtra {
		b.WriteBytes(extraFlags)
	}
	return b.WriteNullString(message).BuildPacket()
}

// Lagger is one entry of START_LAG.
type Lagger struct {
	PID     byte
	LagTime uint32 // milliseconds the player has been lagging
}

// StartLag shows the lag screen for the given players.
func StartLag(laggers []Lagger) []byte {
	b := NewPacketBuilder(W3GSHeader, PktStartLag).WriteUint8(byte(len(laggers)))
	for _, l := range laggers {
		b.WriteUint8(l.PID).WriteUint32(l.LagTime)
	}
	return b.BuildPacket()
}

// StopLag removes pid from the lag screen.
func StopLag(pid byte, lagTime uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktStopLag).WriteUint8(pid).WriteUint32(lagTime).BuildPacket()
}

// MapCheck asks the client whether it has the map.
func MapCheck(path string, size, info, crc uint32, sha1 []byte) []byte {
	b := NewPacketBuilder(W3GSHeader, PktMapCheck).
		WriteUint32(1).
		WriteNullString(path).
		WriteUint32(size).
		WriteUint32(info).
		WriteUint32(crc)
	digest := make([]byte, 20)
	copy(digest, sha1)
	return b.WriteBytes(digest).BuildPacket()
}

// StartDownload tells the client to expect map parts from fromPID.
func StartDownload(fromPID byte) []byte {
	return NewPacketBuilder(W3GSHeader, PktStartDownload).WriteUint32(1).WriteUint8(fromPID).BuildPacket()
}

// MapPart sends the map chunk starting at offset start. It returns nil when
// start is past the end of the map.
func MapPart(toPID, fromPID byte, start uint32, mapData []byte) []byte {
	if int(start) >= len(mapData) {
		return nil
	}
	end := int(start) + MapPartSize
	if end > len(mapData) {
		end = len(mapData)
	}
	chunk := mapData[start:end]
	return NewPacketBuilder(W3GSHeader, PktMapPart).
		WriteUint8(toPID).
		WriteUint8(fromPID).
		WriteUint32(1).
		WriteUint32(start).
		WriteUint32(crc32.ChecksumIEEE(chunk)).
		WriteBytes(chunk).
		BuildPacket()
}

// ---- W3GS client packets, used by the probe command and tests ----

// ReqJoinPacket builds a join request as a game client sends it.
func ReqJoinPacket(hostCounter, entryKey uint32, listenPort uint16, name string, internalIP net.IP) []byte {
	return NewPacketBuilder(W3GSHeader, PktReqJoin).
		WriteUint32(hostCounter).
		WriteUint32(entryKey).
		WriteUint8(0).
		WriteUint16(listenPort).
		WriteUint32(0). // peer key
		WriteNullString(name).
		WriteUint32(0).
		WriteUint16(0).
		WriteIP(internalIP).
		BuildPacket()
}

// LeaveGame builds a client leave request.
func LeaveGame(reason uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktLeaveGame).WriteUint32(reason).BuildPacket()
}

// GameLoadedSelf builds the client's loaded notification.
func GameLoadedSelf() []byte {
	return NewPacketBuilder(W3GSHeader, PktGameLoadedSelf).BuildPacket()
}

// OutgoingAction builds a client action packet.
func OutgoingAction(crc uint32, action []byte) []byte {
	return NewPacketBuilder(W3GSHeader, PktOutgoingAction).WriteUint32(crc).WriteBytes(action).BuildPacket()
}

// KeepAlive builds a client keepalive carrying its game state checksum.
func KeepAlive(checksum uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktKeepAlive).WriteUint8(1).WriteUint32(checksum).BuildPacket()
}

// DropReq builds the client's drop-laggers vote.
func DropReq() []byte {
	return NewPacketBuilder(W3GSHeader, PktDropReq).BuildPacket()
}

// MapSizeReport builds the client's map state report.
func MapSizeReport(sizeFlag byte, mapSize uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktMapSize).WriteUint32(1).WriteUint8(sizeFlag).WriteUint32(mapSize).BuildPacket()
}

// PongToHost builds the client's answer to PING_FROM_HOST.
func PongToHost(ticks uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktPongToHost).WriteUint32(ticks).BuildPacket()
}
