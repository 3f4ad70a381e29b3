package protocol

import (
	"encoding/binary"
	"fmt"
)

// GPSInitRequest is sent by a GProxy client right after its join request.
type GPSInitRequest struct {
	Version uint32
}

// GPSReconnectRequest is the first packet on the reconnect port.
type GPSReconnectRequest struct {
	PID          byte
	ReconnectKey uint32
	LastPacket   uint32
}

// GPSAckMsg acknowledges every packet up to LastPacket.
type GPSAckMsg struct {
	LastPacket uint32
}

// ---- host side encoders ----

// GPSInit accepts GProxy for a player and hands out its reconnect key.
func GPSInit(reconnectPort uint16, pid byte, reconnectKey uint32, emptyActions byte) []byte {
	return NewPacketBuilder(GPSHeader, GPSInitID).
		WriteUint16(reconnectPort).
		WriteUint8(pid).
		WriteUint32(reconnectKey).
		WriteUint8(emptyActions).
		BuildPacket()
}

// GPSReconnect confirms a reconnect and tells the client how many packets
// the host received on the old stream.
func GPSReconnect(lastPacket uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSReconnectID).WriteUint32(lastPacket).BuildPacket()
}

// GPSAck acknowledges packets received from the client.
func GPSAck(lastPacket uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSAckID).WriteUint32(lastPacket).BuildPacket()
}

// GPSReject refuses a reconnect.
func GPSReject(reason uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSRejectID).WriteUint32(reason).BuildPacket()
}

// ---- client side encoders, used by tests ----

// GPSInitClient builds the client's GPS_INIT.
func GPSInitClient(version uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSInitID).WriteUint32(version).BuildPacket()
}

// GPSReconnectClient builds the client's GPS_RECONNECT.
func GPSReconnectClient(pid byte, reconnectKey, lastPacket uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSReconnectID).
		WriteUint8(pid).
		WriteUint32(reconnectKey).
		WriteUint32(lastPacket).
		BuildPacket()
}

// GPSAckClient builds the client's GPS_ACK.
func GPSAckClient(lastPacket uint32) []byte {
	return NewPacketBuilder(GPSHeader, GPSAckID).WriteUint32(lastPacket).BuildPacket()
}

// ---- decoders ----

// DecodeGPSInit decodes a client GPS_INIT.
func DecodeGPSInit(data []byte) *GPSInitRequest {
	if !ValidateLength(data) || len(data) < 8 {
		return nil
	}
	return &GPSInitRequest{Version: binary.LittleEndian.Uint32(data[4:8])}
}

// DecodeGPSReconnect decodes a client GPS_RECONNECT, which is exactly 13
// bytes long.
func DecodeGPSReconnect(data []byte) *GPSReconnectRequest {
	if !ValidateLength(data) || len(data) != 13 {
		return nil
	}
	return &GPSReconnectRequest{
		PID:          data[4],
		ReconnectKey: binary.LittleEndian.Uint32(data[5:9]),
		LastPacket:   binary.LittleEndian.Uint32(data[9:13]),
	}
}

// DecodeGPSAck decodes a client GPS_ACK, which is exactly 8 bytes long.
func DecodeGPSAck(data []byte) *GPSAckMsg {
	if !ValidateLength(data) || len(data) != 8 {
		return nil
	}
	return &GPSAckMsg{LastPacket: binary.LittleEndian.Uint32(data[4:8])}
}

// ParseGPS decodes a GPS packet sent by a client.
func ParseGPS(p Packet) (any, error) {
	if p.Header != GPSHeader {
		return nil, fmt.Errorf("%w: header 0x%02X", ErrUnknownPacket, p.Header)
	}
	var msg any
	switch p.ID {
	case GPSInitID:
		if m := DecodeGPSInit(p.Data); m != nil {
			msg = m
		}
	case GPSReconnectID:
		if m := DecodeGPSReconnect(p.Data); m != nil {
			msg = m
		}
	case GPSAckID:
		if m := DecodeGPSAck(p.Data); m != nil {
			msg = m
		}
	default:
		return nil, fmt.Errorf("%w: gps 0x%02X", ErrUnknownPacket, p.ID)
	}
	if msg == nil {
		return nil, fmt.Errorf("malformed gps packet 0x%02X: %w", p.ID, ErrShortPacket)
	}
	return msg, nil
}
