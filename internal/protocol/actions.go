package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// Action is one queued player action. Data is opaque game payload.
type Action struct {
	PID  byte
	Data []byte
}

// Len returns the encoded size of the action inside a batch.
func (a Action) Len() int {
	return len(a.Data) + 3
}

func (a Action) appendTo(buf *bytes.Buffer) {
	buf.WriteByte(a.PID)
	binary.Write(buf, binary.LittleEndian, uint16(len(a.Data)))
	buf.Write(a.Data)
}

// SplitActions partitions actions into ordered sub-batches whose encoded size
// does not exceed limit. An action larger than limit gets a batch of its own.
func SplitActions(actions []Action, limit int) [][]Action {
	var batches [][]Action
	var cur []Action
	size := 0
	for _, a := range actions {
		if len(cur) > 0 && size+a.Len() > limit {
			batches = append(batches, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, a)
		size += a.Len()
	}
	if len(cur) > 0 || len(batches) == 0 {
		batches = append(batches, cur)
	}
	return batches
}

// ActionCRC returns the CRC32 of the encoded sub-batch truncated to its low
// 2 bytes, as embedded in INCOMING_ACTION.
func ActionCRC(actions []Action) uint16 {
	var buf bytes.Buffer
	for _, a := range actions {
		a.appendTo(&buf)
	}
	return uint16(crc32.ChecksumIEEE(buf.Bytes()))
}

func encodeActions(id byte, interval uint16, actions []Action) []byte {
	b := NewPacketBuilder(W3GSHeader, id).WriteUint16(interval)
	if len(actions) > 0 {
		var sub bytes.Buffer
		for _, a := range actions {
			a.appendTo(&sub)
		}
		b.WriteUint16(uint16(crc32.ChecksumIEEE(sub.Bytes()))).WriteBytes(sub.Bytes())
	}
	return b.BuildPacket()
}

// IncomingActionPacket builds the per-tick action packet. An empty batch is a
// keepalive tick.
func IncomingActionPacket(interval uint16, actions []Action) []byte {
	return encodeActions(PktIncomingAction, interval, actions)
}

// IncomingAction2 builds the overflow packet sent ahead of IncomingActionPacket
// when a tick's actions do not fit one packet.
func IncomingAction2(actions []Action) []byte {
	return encodeActions(PktIncomingAction2, 0, actions)
}

// ActionBatchPackets encodes one tick of actions: zero or more overflow
// packets followed by exactly one INCOMING_ACTION carrying interval. The
// returned order is the order the packets must be sent in.
func ActionBatchPackets(actions []Action, interval uint16) [][]byte {
	batches := SplitActions(actions, ActionBatchLimit)
	packets := make([][]byte, 0, len(batches))
	for _, batch := range batches[:len(batches)-1] {
		packets = append(packets, IncomingAction2(batch))
	}
	return append(packets, IncomingActionPacket(interval, batches[len(batches)-1]))
}

// IncomingActionMsg is a decoded INCOMING_ACTION or INCOMING_ACTION2.
type IncomingActionMsg struct {
	Overflow bool
	Interval uint16
	CRC      uint16
	Actions  []Action
}

// DecodeIncomingAction decodes a host action packet. It returns nil when the
// packet is malformed or the embedded CRC does not match.
func DecodeIncomingAction(data []byte) *IncomingActionMsg {
	if !ValidateLength(data) || len(data) < 6 {
		return nil
	}
	if data[1] != PktIncomingAction && data[1] != PktIncomingAction2 {
		return nil
	}
	m := &IncomingActionMsg{
		Overflow: data[1] == PktIncomingAction2,
		Interval: binary.LittleEndian.Uint16(data[4:6]),
	}
	rest := data[6:]
	if len(rest) == 0 {
		return m
	}
	if len(rest) < 2 {
		return nil
	}
	m.CRC = binary.LittleEndian.Uint16(rest[:2])
	sub := rest[2:]
	if uint16(crc32.ChecksumIEEE(sub)) != m.CRC {
		return nil
	}
	for len(sub) > 0 {
		if len(sub) < 3 {
			return nil
		}
		n := int(binary.LittleEndian.Uint16(sub[1:3]))
		if len(sub) < 3+n {
			return nil
		}
		m.Actions = append(m.Actions, Action{PID: sub[0], Data: append([]byte(nil), sub[3:3+n]...)})
		sub = sub[3+n:]
	}
	return m
}
