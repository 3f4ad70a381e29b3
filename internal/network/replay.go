package network

// DefaultReplayLimit caps the packets a ReplayBuffer keeps.
const DefaultReplayLimit = 20000

// ReplayBuffer keeps the packets sent to a GProxy player so they can be
// replayed over a new stream after a reconnect. Packets are numbered by the
// running total of packets sent; the buffer always holds the newest ones, so
// its front packet has number Total()-Len()+1.
type ReplayBuffer struct {
	packets [][]byte
	total   uint32
	limit   int
}

// NewReplayBuffer creates a buffer keeping at most limit packets. A limit of
// zero or less uses DefaultReplayLimit.
func NewReplayBuffer(limit int) *ReplayBuffer {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}
	return &ReplayBuffer{limit: limit}
}

// Sent counts one packet sent to the player and keeps it when keep is set.
func (b *ReplayBuffer) Sent(data []byte, keep bool) {
	b.total++
	if !keep {
		return
	}
	b.packets = append(b.packets, data)
	if len(b.packets) > b.limit {
		drop := len(b.packets) - b.limit
		for i := 0; i < drop; i++ {
			b.packets[i] = nil
		}
		b.packets = b.packets[drop:]
	}
}

// Total returns the number of packets sent so far.
func (b *ReplayBuffer) Total() uint32 {
	return b.total
}

// Len returns the number of packets held.
func (b *ReplayBuffer) Len() int {
	return len(b.packets)
}

// Ack drops every held packet numbered up to and including last.
func (b *ReplayBuffer) Ack(last uint32) {
	already := b.total - uint32(len(b.packets))
	if last <= already {
		return
	}
	n := int(last - already)
	if n > len(b.packets) {
		n = len(b.packets)
	}
	for i := 0; i < n; i++ {
		b.packets[i] = nil
	}
	b.packets = b.packets[n:]
}

// Replay acknowledges last and returns the remaining packets in send order.
// The packets stay held until acknowledged. complete is false when packets
// after last were already dropped by the limit.
func (b *ReplayBuffer) Replay(last uint32) (packets [][]byte, complete bool) {
	b.Ack(last)
	already := b.total - uint32(len(b.packets))
	out := make([][]byte, len(b.packets))
	copy(out, b.packets)
	return out, last >= already
}
