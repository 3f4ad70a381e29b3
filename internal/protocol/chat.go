package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ChatToHost is a client chat message or lobby change request.
type ChatToHost struct {
	ToPIDs     []byte
	FromPID    byte
	Flag       byte
	Message    string // ChatMessage, ChatMessageExtra
	ExtraFlags []byte // ChatMessageExtra: 4 bytes, first byte is the audience
	Value      byte   // team, colour, race or handicap for change requests
}

// IsMessage reports whether the packet carries chat text.
func (c *ChatToHost) IsMessage() bool {
	return c.Flag == ChatMessage || c.Flag == ChatMessageExtra
}

// DecodeChatToHost decodes CHAT_TO_HOST. It returns nil when the packet is
// malformed or carries an unknown flag.
func DecodeChatToHost(data []byte) *ChatToHost {
	r := payloadReader(data)
	if r == nil {
		return nil
	}
	m, err := parseChatToHost(r)
	if err != nil {
		return nil
	}
	return m
}

func parseChatToHost(r *bytes.Reader) (*ChatToHost, error) {
	total, err := r.ReadByte()
	if err != nil || total == 0 {
		return nil, fmt.Errorf("failed to parse recipient count: %w", ErrShortPacket)
	}
	m := &ChatToHost{ToPIDs: make([]byte, total)}
	if err := binary.Read(r, binary.LittleEndian, m.ToPIDs); err != nil {
		return nil, fmt.Errorf("failed to parse recipients: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.FromPID); err != nil {
		return nil, fmt.Errorf("failed to parse sender: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Flag); err != nil {
		return nil, fmt.Errorf("failed to parse chat flag: %w", err)
	}

	switch {
	case m.Flag == ChatMessage:
		if m.Message, err = readCString(r); err != nil {
			return nil, fmt.Errorf("failed to parse chat message: %w", err)
		}
	case m.Flag >= ChatTeamChange && m.Flag <= ChatHandicapChange:
		if m.Value, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("failed to parse change value: %w", ErrShortPacket)
		}
	case m.Flag == ChatMessageExtra:
		m.ExtraFlags = make([]byte, 4)
		if err := binary.Read(r, binary.LittleEndian, m.ExtraFlags); err != nil {
			return nil, fmt.Errorf("failed to parse extra flags: %w", err)
		}
		if m.Message, err = readCString(r); err != nil {
			return nil, fmt.Errorf("failed to parse chat message: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: chat flag %d", ErrUnknownPacket, m.Flag)
	}
	return m, nil
}

// EncodeChatToHost builds CHAT_TO_HOST as a client sends it.
func EncodeChatToHost(c *ChatToHost) []byte {
	b := NewPacketBuilder(W3GSHeader, PktChatToHost).
		WriteUint8(byte(len(c.ToPIDs))).
		WriteBytes(c.ToPIDs).
		WriteUint8(c.FromPID).
		WriteUint8(c.Flag)
	switch {
	case c.Flag == ChatMessage:
		b.WriteNullString(c.Message)
	case c.Flag == ChatMessageExtra:
		extra := make([]byte, 4)
		copy(extra, c.ExtraFlags)
		b.WriteBytes(extra).WriteNullString(c.Message)
	default:
		b.WriteUint8(c.Value)
	}
	return b.BuildPacket()
}

// ChatFromHostMsg is a decoded CHAT_FROM_HOST.
type ChatFromHostMsg struct {
	ToPIDs     []byte
	FromPID    byte
	Flag       byte
	ExtraFlags []byte
	Message    string
}

// DecodeChatFromHost decodes CHAT_FROM_HOST. Lobby notifications with change
// flags carry no text.
func DecodeChatFromHost(data []byte) *ChatFromHostMsg {
	r := payloadReader(data)
	if r == nil {
		return nil
	}
	total, err := r.ReadByte()
	if err != nil {
		return nil
	}
	m := &ChatFromHostMsg{ToPIDs: make([]byte, total)}
	if err := binary.Read(r, binary.LittleEndian, m.ToPIDs); err != nil {
		return nil
	}
	if err := binary.Read(r, binary.LittleEndian, &m.FromPID); err != nil {
		return nil
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Flag); err != nil {
		return nil
	}
	if m.Flag == ChatMessageExtra {
		m.ExtraFlags = make([]byte, 4)
		if err := binary.Read(r, binary.LittleEndian, m.ExtraFlags); err != nil {
			return nil
		}
	}
	if m.Message, err = readCString(r); err != nil {
		return nil
	}
	return m
}
