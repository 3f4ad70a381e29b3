package protocol

import (
	"encoding/binary"
	"hash/crc32"
	"net"
)

// Decoders for packets the host sends. The probe command and tests use them
// to check what a client would see.

// SlotInfoJoinMsg is a decoded SLOTINFOJOIN.
type SlotInfoJoinMsg struct {
	SlotInfo   []byte
	PID        byte
	Port       uint16
	ExternalIP net.IP
}

// DecodeSlotInfoJoin decodes SLOTINFOJOIN.
func DecodeSlotInfoJoin(data []byte) *SlotInfoJoinMsg {
	if !ValidateLength(data) || len(data) < 6 || data[1] != PktSlotInfoJoin {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(data[4:6]))
	rest := data[6:]
	if len(rest) < n+1+2+2+4 {
		return nil
	}
	m := &SlotInfoJoinMsg{SlotInfo: append([]byte(nil), rest[:n]...)}
	rest = rest[n:]
	m.PID = rest[0]
	m.Port = binary.LittleEndian.Uint16(rest[3:5])
	m.ExternalIP = net.IPv4(rest[5], rest[6], rest[7], rest[8]).To4()
	return m
}

// DecodeSlotInfo returns the slot info block of SLOTINFO.
func DecodeSlotInfo(data []byte) []byte {
	if !ValidateLength(data) || len(data) < 6 || data[1] != PktSlotInfo {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(data[4:6]))
	if len(data) != 6+n {
		return nil
	}
	return append([]byte(nil), data[6:]...)
}

// DecodeRejectJoin returns the reject reason of REJECTJOIN.
func DecodeRejectJoin(data []byte) (uint32, bool) {
	if !ValidateLength(data) || len(data) != 8 || data[1] != PktRejectJoin {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[4:8]), true
}

// PlayerInfoMsg is a decoded PLAYERINFO.
type PlayerInfoMsg struct {
	PID        byte
	Name       string
	ExternalIP net.IP
	InternalIP net.IP
}

// DecodePlayerInfo decodes PLAYERINFO.
func DecodePlayerInfo(data []byte) *PlayerInfoMsg {
	r := payloadReader(data)
	if r == nil || data[1] != PktPlayerInfo {
		return nil
	}
	var counter uint32
	if err := binary.Read(r, binary.LittleEndian, &counter); err != nil {
		return nil
	}
	m := &PlayerInfoMsg{}
	var err error
	if m.PID, err = r.ReadByte(); err != nil {
		return nil
	}
	if m.Name, err = readCString(r); err != nil {
		return nil
	}
	skip := make([]byte, 6) // unknown, AF_INET, port
	if err := binary.Read(r, binary.LittleEndian, skip); err != nil {
		return nil
	}
	if m.ExternalIP, err = readIP(r); err != nil {
		return nil
	}
	skip = make([]byte, 12) // padding, AF_INET, port
	if err := binary.Read(r, binary.LittleEndian, skip); err != nil {
		return nil
	}
	if m.InternalIP, err = readIP(r); err != nil {
		return nil
	}
	return m
}

// DecodePlayerLeaveOthers decodes PLAYERLEAVE_OTHERS.
func DecodePlayerLeaveOthers(data []byte) (pid byte, leaveCode uint32, ok bool) {
	if !ValidateLength(data) || len(data) != 9 || data[1] != PktPlayerLeaveOther {
		return 0, 0, false
	}
	return data[4], binary.LittleEndian.Uint32(data[5:9]), true
}

// DecodeHostKickPlayer decodes HOST_KICK_PLAYER.
func DecodeHostKickPlayer(data []byte) (uint32, bool) {
	if !ValidateLength(data) || len(data) != 8 || data[1] != PktHostKickPlayer {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[4:8]), true
}

// DecodeStartLag decodes START_LAG.
func DecodeStartLag(data []byte) []Lagger {
	if !ValidateLength(data) || len(data) < 5 || data[1] != PktStartLag {
		return nil
	}
	n := int(data[4])
	if len(data) != 5+5*n {
		return nil
	}
	laggers := make([]Lagger, 0, n)
	for i := 0; i < n; i++ {
		off := 5 + 5*i
		laggers = append(laggers, Lagger{PID: data[off], LagTime: binary.LittleEndian.Uint32(data[off+1 : off+5])})
	}
	return laggers
}

// DecodeStopLag decodes STOP_LAG.
func DecodeStopLag(data []byte) (Lagger, bool) {
	if !ValidateLength(data) || len(data) != 9 || data[1] != PktStopLag {
		return Lagger{}, false
	}
	return Lagger{PID: data[4], LagTime: binary.LittleEndian.Uint32(data[5:9])}, true
}

// MapPartMsg is a decoded MAPPART.
type MapPartMsg struct {
	ToPID   byte
	FromPID byte
	Start   uint32
	Chunk   []byte
}

// DecodeMapPart decodes MAPPART and verifies the chunk checksum.
func DecodeMapPart(data []byte) *MapPartMsg {
	if !ValidateLength(data) || len(data) < 18 || data[1] != PktMapPart {
		return nil
	}
	m := &MapPartMsg{
		ToPID:   data[4],
		FromPID: data[5],
		Start:   binary.LittleEndian.Uint32(data[10:14]),
		Chunk:   append([]byte(nil), data[18:]...),
	}
	if crc32.ChecksumIEEE(m.Chunk) != binary.LittleEndian.Uint32(data[14:18]) {
		return nil
	}
	return m
}

// MapCheckMsg is a decoded MAPCHECK.
type MapCheckMsg struct {
	Path string
	Size uint32
	Info uint32
	CRC  uint32
	SHA1 []byte
}

// DecodeMapCheck decodes MAPCHECK.
func DecodeMapCheck(data []byte) *MapCheckMsg {
	r := payloadReader(data)
	if r == nil || data[1] != PktMapCheck {
		return nil
	}
	var unknown uint32
	if err := binary.Read(r, binary.LittleEndian, &unknown); err != nil {
		return nil
	}
	m := &MapCheckMsg{SHA1: make([]byte, 20)}
	var err error
	if m.Path, err = readCString(r); err != nil {
		return nil
	}
	for _, f := range []*uint32{&m.Size, &m.Info, &m.CRC} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil
		}
	}
	if err := binary.Read(r, binary.LittleEndian, m.SHA1); err != nil {
		return nil
	}
	return m
}

// DecodePingFromHost returns the tick carried by PING_FROM_HOST.
func DecodePingFromHost(data []byte) (uint32, bool) {
	if !ValidateLength(data) || len(data) != 8 || data[1] != PktPingFromHost {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[4:8]), true
}

// GPSHostMsg is a GPS packet sent by the host: the reconnect port, PID, key
// and empty action count of GPSS_INIT, or the single uint32 of the others.
type GPSHostMsg struct {
	ID           byte
	Port         uint16
	PID          byte
	ReconnectKey uint32
	EmptyActions byte
	Value        uint32 // last packet or reject reason
}

// DecodeGPSHost decodes a host GPS packet.
func DecodeGPSHost(data []byte) *GPSHostMsg {
	if !ValidateLength(data) || data[0] != GPSHeader {
		return nil
	}
	m := &GPSHostMsg{ID: data[1]}
	switch m.ID {
	case GPSInitID:
		if len(data) != 12 {
			return nil
		}
		m.Port = binary.LittleEndian.Uint16(data[4:6])
		m.PID = data[6]
		m.ReconnectKey = binary.LittleEndian.Uint32(data[7:11])
		m.EmptyActions = data[11]
	case GPSReconnectID, GPSAckID, GPSRejectID:
		if len(data) != 8 {
			return nil
		}
		m.Value = binary.LittleEndian.Uint32(data[4:8])
	default:
		return nil
	}
	return m
}
