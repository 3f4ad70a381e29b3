package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warhost-project/warhost/internal/protocol"
)

func waitPackets(t *testing.T, c *Connection, n int) []protocol.Packet {
	t.Helper()
	var got []protocol.Packet
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d packets, want %d", len(got), n)
		}
		got = append(got, c.Packets()...)
		time.Sleep(5 * time.Millisecond)
	}
	return got
}

func TestConnectionReassemblesChunks(t *testing.T) {
	server, client := net.Pipe()
	c := NewConnection(server)
	defer c.Close()
	defer client.Close()

	want := [][]byte{
		protocol.PongToHost(1),
		protocol.KeepAlive(2),
		protocol.MapSizeReport(1, 3),
	}
	var stream []byte
	for _, p := range want {
		stream = append(stream, p...)
	}
	go func() {
		for i := 0; i < len(stream); i += 3 {
			end := i + 3
			if end > len(stream) {
				end = len(stream)
			}
			client.Write(stream[i:end])
		}
	}()

	got := waitPackets(t, c, len(want))
	for i, p := range got {
		if !bytes.Equal(p.Data, want[i]) {
			t.Fatalf("packet %d = %x, want %x", i, p.Data, want[i])
		}
	}
	if c.Buffered() != 0 {
		t.Fatalf("Buffered() = %d", c.Buffered())
	}
}

func TestConnectionSendOrder(t *testing.T) {
	server, client := net.Pipe()
	c := NewConnection(server)
	defer c.Close()

	var want []byte
	for i := 0; i < 20; i++ {
		p := protocol.PingFromHost(uint32(i))
		want = append(want, p...)
		if err := c.Send(p); err != nil {
			t.Fatal(err)
		}
	}

	got := make([]byte, len(want))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("outbound bytes reordered")
	}
	client.Close()
}

func TestConnectionCloseAfterFlush(t *testing.T) {
	server, client := net.Pipe()
	c := NewConnection(server)

	p := protocol.RejectJoin(protocol.RejectFull)
	c.Send(p)
	c.CloseAfterFlush()
	if err := c.Send(protocol.PingFromHost(1)); err == nil {
		t.Fatal("Send after CloseAfterFlush succeeded")
	}

	got, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, p) {
		t.Fatalf("read %x, want %x", got, p)
	}
}

func TestDetachedConnection(t *testing.T) {
	c := NewDetachedConnection(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 6112})
	c.Feed(protocol.PongToHost(9)[:5])
	if pk := c.Packets(); len(pk) != 0 {
		t.Fatalf("partial packet sliced: %v", pk)
	}
	c.Feed(protocol.PongToHost(9)[5:])
	if pk := c.Packets(); len(pk) != 1 {
		t.Fatalf("got %d packets", len(pk))
	}

	c.Send([]byte{1})
	c.Send([]byte{2})
	if diff := cmp.Diff([][]byte{{1}, {2}}, c.TakeOutbound()); diff != "" {
		t.Fatalf("outbound mismatch (-want +got):\n%s", diff)
	}
	if !c.RemoteIP().Equal(net.IPv4(10, 1, 2, 3)) {
		t.Fatalf("RemoteIP() = %v", c.RemoteIP())
	}
}

func TestConnectionNextLeavesRest(t *testing.T) {
	c := NewDetachedConnection(nil)
	var stream []byte
	stream = append(stream, protocol.PongToHost(1)...)
	stream = append(stream, protocol.GPSAckClient(7)...)
	c.Feed(stream)

	pkt, ok := c.Next()
	if !ok || pkt.ID != protocol.PktPongToHost {
		t.Fatalf("Next() = %+v, %v", pkt, ok)
	}
	if c.Buffered() != len(protocol.GPSAckClient(7)) {
		t.Fatalf("Buffered() = %d after one packet", c.Buffered())
	}
	rest := c.Packets()
	if len(rest) != 1 || rest[0].Header != protocol.GPSHeader {
		t.Fatalf("rest = %+v", rest)
	}
	if _, ok := c.Next(); ok {
		t.Fatal("Next() on empty buffer")
	}
}

func TestConnectionHaltsOnGarbage(t *testing.T) {
	c := NewDetachedConnection(nil)
	c.Feed([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	if len(c.Packets()) != 0 {
		t.Fatal("garbage produced packets")
	}
	if c.Buffered() != 5 {
		t.Fatalf("garbage discarded, Buffered() = %d", c.Buffered())
	}
	if !c.Stalled() {
		t.Fatal("Stalled() = false for an unknown header")
	}
	if c.Err() != nil {
		t.Fatal("small garbage should not be an error")
	}

	c.Feed(make([]byte, MaxAccumulated))
	c.Packets()
	if c.Err() != ErrOverflow {
		t.Fatalf("Err() = %v, want ErrOverflow", c.Err())
	}
}

func TestReplayBuffer(t *testing.T) {
	b := NewReplayBuffer(0)
	for i := 1; i <= 10; i++ {
		b.Sent([]byte{byte(i)}, true)
	}
	b.Ack(4)
	if b.Len() != 6 {
		t.Fatalf("Len() = %d after ack, want 6", b.Len())
	}
	b.Ack(2) // stale ack is a no-op
	if b.Len() != 6 {
		t.Fatalf("stale ack changed Len() to %d", b.Len())
	}

	got, complete := b.Replay(7)
	if !complete {
		t.Fatal("replay reported incomplete")
	}
	if diff := cmp.Diff([][]byte{{8}, {9}, {10}}, got); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
	// Replayed packets are kept until acknowledged.
	if b.Len() != 3 {
		t.Fatalf("Len() = %d after replay, want 3", b.Len())
	}
	b.Ack(100)
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after over-ack", b.Len())
	}
}

func TestReplayBufferUnkeptAndLimit(t *testing.T) {
	b := NewReplayBuffer(3)
	b.Sent([]byte{1}, false) // lobby traffic is counted but not kept
	for i := 2; i <= 6; i++ {
		b.Sent([]byte{byte(i)}, true)
	}
	if b.Total() != 6 || b.Len() != 3 {
		t.Fatalf("Total()=%d Len()=%d", b.Total(), b.Len())
	}
	got, complete := b.Replay(2)
	if complete {
		t.Fatal("replay past the limit reported complete")
	}
	if diff := cmp.Diff([][]byte{{4}, {5}, {6}}, got); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(1, 2)
	if !l.Allow("1.1.1.1") || !l.Allow("1.1.1.1") {
		t.Fatal("burst rejected")
	}
	if l.Allow("1.1.1.1") {
		t.Fatal("third immediate accept allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("other IP throttled")
	}
	if n := l.Prune(-time.Second); n != 2 || l.Len() != 0 {
		t.Fatalf("Prune() = %d, Len() = %d", n, l.Len())
	}
}

func TestListenerAccepts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewListener("game", "127.0.0.1:0", NewIPLimiter(100, 100))
	if err := l.Listen(ctx); err != nil {
		t.Fatal(err)
	}
	go l.Serve(ctx)

	client, err := net.Dial("tcp4", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.Write(protocol.PongToHost(3))

	select {
	case c := <-l.Accepted():
		defer c.Close()
		waitPackets(t, c, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
}
