package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Product ids as they appear on the wire.
var (
	ProductTFT = [4]byte{'P', 'X', '3', 'W'}
	ProductROC = [4]byte{'3', 'R', 'A', 'W'}
)

// ErrBadStatString is returned when an encoded stat string fails its
// round-trip check.
var ErrBadStatString = errors.New("stat string does not decode to its input")

// GameInfoParams describes a lobby advertised on the LAN.
type GameInfoParams struct {
	TFT         bool
	War3Version byte
	MapGameType uint32
	MapFlags    uint32
	MapWidth    uint16
	MapHeight   uint16
	GameName    string
	HostName    string
	UpTime      uint32 // seconds since the lobby was created
	MapPath     string
	MapCRC      uint32
	SlotsTotal  uint32
	SlotsOpen   uint32
	Port        uint16
	HostCounter uint32
	EntryKey    uint32
}

// StatString returns the plain stat string for p.
func (p *GameInfoParams) StatString() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, p.MapFlags)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, p.MapWidth)
	binary.Write(&buf, binary.LittleEndian, p.MapHeight)
	binary.Write(&buf, binary.LittleEndian, p.MapCRC)
	buf.WriteString(p.MapPath)
	buf.WriteByte(0)
	buf.WriteString(p.HostName)
	buf.WriteByte(0)
	buf.WriteByte(0)
	return buf.Bytes()
}

// GameInfo builds the LAN GAMEINFO packet. The encoded stat string must
// decode back to its input, otherwise nothing is emitted.
func GameInfo(p *GameInfoParams) ([]byte, error) {
	plain := p.StatString()
	encoded := EncodeStatString(plain)
	if !ValidStatString(encoded) || !bytes.Equal(DecodeStatString(encoded), plain) {
		return nil, ErrBadStatString
	}

	product := ProductROC
	if p.TFT {
		product = ProductTFT
	}
	return NewPacketBuilder(W3GSHeader, PktGameInfo).
		WriteBytes(product[:]).
		WriteBytes([]byte{p.War3Version, 0, 0, 0}).
		WriteUint32(p.HostCounter).
		WriteUint32(p.EntryKey).
		WriteNullString(p.GameName).
		WriteUint8(0).
		WriteBytes(encoded).
		WriteUint8(0).
		WriteUint32(p.SlotsTotal).
		WriteUint32(p.MapGameType).
		WriteUint32(1).
		WriteUint32(p.SlotsOpen).
		WriteUint32(p.UpTime).
		WriteUint16(p.Port).
		BuildPacket(), nil
}

// RefreshGame updates the player count of an advertised lobby.
func RefreshGame(hostCounter, slotsUsed, slotsTotal uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktRefreshGame).
		WriteUint32(hostCounter).
		WriteUint32(slotsUsed).
		WriteUint32(slotsTotal).
		BuildPacket()
}

// DecreateGame withdraws a lobby from the LAN game list.
func DecreateGame(hostCounter uint32) []byte {
	return NewPacketBuilder(W3GSHeader, PktDecreateGame).WriteUint32(hostCounter).BuildPacket()
}

// GameInfoMsg is a decoded GAMEINFO.
type GameInfoMsg struct {
	Product     [4]byte
	Version     byte
	HostCounter uint32
	EntryKey    uint32
	GameName    string
	StatString  []byte // decoded
	SlotsTotal  uint32
	MapGameType uint32
	SlotsOpen   uint32
	UpTime      uint32
	Port        uint16
}

// MapPath extracts the map path from the decoded stat string.
func (g *GameInfoMsg) MapPath() string {
	if len(g.StatString) <= 13 {
		return ""
	}
	rest := g.StatString[13:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return ""
}

// DecodeGameInfo decodes GAMEINFO.
func DecodeGameInfo(data []byte) *GameInfoMsg {
	r := payloadReader(data)
	if r == nil || data[1] != PktGameInfo {
		return nil
	}
	m, err := parseGameInfo(r)
	if err != nil {
		return nil
	}
	return m
}

func parseGameInfo(r *bytes.Reader) (*GameInfoMsg, error) {
	m := &GameInfoMsg{}
	var version [4]byte
	if err := binary.Read(r, binary.LittleEndian, &m.Product); err != nil {
		return nil, fmt.Errorf("failed to parse product: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}
	m.Version = version[0]
	if err := binary.Read(r, binary.LittleEndian, &m.HostCounter); err != nil {
		return nil, fmt.Errorf("failed to parse host counter: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.EntryKey); err != nil {
		return nil, fmt.Errorf("failed to parse entry key: %w", err)
	}
	name, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse game name: %w", err)
	}
	m.GameName = name
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("failed to parse password: %w", ErrShortPacket)
	}
	stat, err := readCString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stat string: %w", err)
	}
	m.StatString = DecodeStatString([]byte(stat))
	fields := []*uint32{&m.SlotsTotal, &m.MapGameType, new(uint32), &m.SlotsOpen, &m.UpTime}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("failed to parse slot counts: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Port); err != nil {
		return nil, fmt.Errorf("failed to parse port: %w", err)
	}
	return m, nil
}
