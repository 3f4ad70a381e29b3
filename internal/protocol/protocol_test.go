package protocol

import (
	"bytes"
	"math/rand"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func samplePackets() [][]byte {
	return [][]byte{
		PingFromHost(1234),
		ReqJoinPacket(0x10000002, 77, 6112, "alice", net.IPv4(10, 0, 0, 5)),
		EncodeChatToHost(&ChatToHost{ToPIDs: []byte{1, 2}, FromPID: 3, Flag: ChatMessage, Message: "hello"}),
		GPSAckClient(42),
		KeepAlive(0xCAFEBABE),
		MapPart(2, 1, 0, bytes.Repeat([]byte{7}, 3000)),
	}
}

func TestNextPacketChunked(t *testing.T) {
	packets := samplePackets()
	var stream []byte
	for _, p := range packets {
		stream = append(stream, p...)
	}

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		var acc []byte
		var got [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			acc = append(acc, rest[:n]...)
			rest = rest[n:]
			for {
				pkt, consumed, ok := NextPacket(acc)
				if !ok {
					break
				}
				got = append(got, pkt.Data)
				acc = acc[consumed:]
			}
		}
		if len(acc) != 0 {
			t.Fatalf("round %d: %d bytes left over", round, len(acc))
		}
		if diff := cmp.Diff(packets, got); diff != "" {
			t.Fatalf("round %d: packets mismatch (-want +got):\n%s", round, diff)
		}
	}
}

func TestNextPacketHalts(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"three bytes", []byte{W3GSHeader, PktPingFromHost, 8}},
		{"unknown header", []byte{0x00, 0x01, 4, 0}},
		{"declared below header", []byte{W3GSHeader, 0x01, 3, 0}},
		{"incomplete", PingFromHost(1)[:7]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, n, ok := NextPacket(tt.buf); ok || n != 0 {
				t.Fatalf("NextPacket() = (%d, %v), want (0, false)", n, ok)
			}
		})
	}
}

func TestLengthFieldIntegrity(t *testing.T) {
	for _, p := range samplePackets() {
		if !ValidateLength(p) {
			t.Fatalf("packet 0x%02X fails its own length check", p[1])
		}
		if ValidateLength(p[:len(p)-1]) {
			t.Errorf("packet 0x%02X validates one byte short", p[1])
		}
		if ValidateLength(append(append([]byte(nil), p...), 0)) {
			t.Errorf("packet 0x%02X validates one byte long", p[1])
		}
	}

	join := ReqJoinPacket(1, 2, 6112, "bob", net.IPv4(1, 2, 3, 4))
	if DecodeReqJoin(join[:len(join)-1]) != nil {
		t.Error("DecodeReqJoin accepted a truncated packet")
	}
	if DecodeKeepAlive(append(KeepAlive(1), 0)) != nil {
		t.Error("DecodeKeepAlive accepted a long packet")
	}
}

func TestDecodeReqJoin(t *testing.T) {
	data := ReqJoinPacket(0x20000005, 99, 6113, "carol", net.IPv4(192, 168, 1, 20))
	m := DecodeReqJoin(data)
	if m == nil {
		t.Fatal("DecodeReqJoin returned nil")
	}
	want := &ReqJoin{
		HostCounter: 0x20000005,
		EntryKey:    99,
		ListenPort:  6113,
		Name:        "carol",
		InternalIP:  net.IPv4(192, 168, 1, 20).To4(),
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if m.HostCounterID() != 2 {
		t.Fatalf("HostCounterID() = %d, want 2", m.HostCounterID())
	}
}

func TestDecodeReqJoinUnterminatedName(t *testing.T) {
	b := NewPacketBuilder(W3GSHeader, PktReqJoin).
		WriteUint32(1).WriteUint32(2).WriteUint8(0).WriteUint16(6112).WriteUint32(0).
		WriteBytes([]byte("abcdefgh")).
		BuildPacket()
	if DecodeReqJoin(b) != nil {
		t.Fatal("expected nil for unterminated name")
	}
}

func TestChatToHostFlags(t *testing.T) {
	tests := []struct {
		name string
		msg  ChatToHost
	}{
		{"message", ChatToHost{ToPIDs: []byte{1}, FromPID: 2, Flag: ChatMessage, Message: "!start"}},
		{"team", ChatToHost{ToPIDs: []byte{1}, FromPID: 2, Flag: ChatTeamChange, Value: 1}},
		{"colour", ChatToHost{ToPIDs: []byte{1}, FromPID: 2, Flag: ChatColourChange, Value: 5}},
		{"race", ChatToHost{ToPIDs: []byte{1}, FromPID: 2, Flag: ChatRaceChange, Value: 2}},
		{"handicap", ChatToHost{ToPIDs: []byte{1}, FromPID: 2, Flag: ChatHandicapChange, Value: 80}},
		{"extra", ChatToHost{ToPIDs: []byte{1, 3}, FromPID: 2, Flag: ChatMessageExtra, ExtraFlags: []byte{0, 0, 0, 0}, Message: "gg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeChatToHost(EncodeChatToHost(&tt.msg))
			if got == nil {
				t.Fatal("DecodeChatToHost returned nil")
			}
			if diff := cmp.Diff(&tt.msg, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	bad := NewPacketBuilder(W3GSHeader, PktChatToHost).WriteUint8(0).WriteUint8(1).WriteUint8(ChatMessage).BuildPacket()
	if DecodeChatToHost(bad) != nil {
		t.Error("accepted zero recipients")
	}
	unknown := NewPacketBuilder(W3GSHeader, PktChatToHost).WriteUint8(1).WriteUint8(1).WriteUint8(2).WriteUint8(99).BuildPacket()
	if DecodeChatToHost(unknown) != nil {
		t.Error("accepted unknown flag")
	}
}

func TestChatFromHost(t *testing.T) {
	data := ChatFromHost(1, []byte{2, 3}, ChatMessageExtra, []byte{0, 0, 0, 0}, "hi")
	m := DecodeChatFromHost(data)
	if m == nil {
		t.Fatal("DecodeChatFromHost returned nil")
	}
	if m.Message != "hi" || m.FromPID != 1 || !bytes.Equal(m.ToPIDs, []byte{2, 3}) {
		t.Fatalf("unexpected %+v", m)
	}
}

func TestStatStringInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inputs := [][]byte{
		{},
		{0},
		{1, 2, 3, 4, 5, 6, 7},
		{0, 0, 0, 0, 0, 0, 0, 0},
		{255, 254, 253},
	}
	for i := 0; i < 100; i++ {
		b := make([]byte, rng.Intn(200))
		rng.Read(b)
		inputs = append(inputs, b)
	}
	for _, in := range inputs {
		enc := EncodeStatString(in)
		if !ValidStatString(enc) {
			t.Fatalf("EncodeStatString(%x) = %x is not valid", in, enc)
		}
		if bytes.IndexByte(enc, 0) >= 0 {
			t.Fatalf("encoded %x contains a zero byte", enc)
		}
		if got := DecodeStatString(enc); !bytes.Equal(got, in) {
			t.Fatalf("round trip of %x = %x", in, got)
		}
		wantLen := len(in) + (len(in)+6)/7
		if len(enc) != wantLen {
			t.Fatalf("len(encode(%d bytes)) = %d, want %d", len(in), len(enc), wantLen)
		}
	}
}

func TestStatStringKnownVector(t *testing.T) {
	// 0x02 even -> 0x03 with bit clear; 0x03 odd -> unchanged with bit 2 set.
	got := EncodeStatString([]byte{0x02, 0x03})
	want := []byte{0x01 | 0x04, 0x03, 0x03}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitActions(t *testing.T) {
	var actions []Action
	for i := 0; i < 40; i++ {
		actions = append(actions, Action{PID: byte(i%5 + 1), Data: bytes.Repeat([]byte{byte(i)}, 50+i*3)})
	}
	batches := SplitActions(actions, ActionBatchLimit)

	var flat []Action
	for _, b := range batches {
		size := 0
		for _, a := range b {
			size += a.Len()
		}
		if size > ActionBatchLimit {
			t.Fatalf("batch size %d exceeds limit", size)
		}
		flat = append(flat, b...)
	}
	if diff := cmp.Diff(actions, flat); diff != "" {
		t.Fatalf("order changed (-want +got):\n%s", diff)
	}
	if len(batches) < 2 {
		t.Fatalf("expected a split, got %d batch", len(batches))
	}
}

func TestActionBatchPacketsOrder(t *testing.T) {
	actions := []Action{
		{PID: 1, Data: bytes.Repeat([]byte{1}, 1000)},
		{PID: 2, Data: bytes.Repeat([]byte{2}, 1000)},
		{PID: 3, Data: []byte{3, 3}},
	}
	packets := ActionBatchPackets(actions, 100)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	first := DecodeIncomingAction(packets[0])
	last := DecodeIncomingAction(packets[1])
	if first == nil || last == nil {
		t.Fatal("decode failed")
	}
	if !first.Overflow || first.Interval != 0 {
		t.Fatalf("first packet = %+v, want overflow with zero interval", first)
	}
	if last.Overflow || last.Interval != 100 {
		t.Fatalf("last packet = %+v, want normal with interval 100", last)
	}
	if diff := cmp.Diff(actions, append(first.Actions, last.Actions...)); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
	if last.CRC != ActionCRC(last.Actions) {
		t.Fatalf("crc = %04x, want %04x", last.CRC, ActionCRC(last.Actions))
	}
}

func TestEmptyActionPacket(t *testing.T) {
	packets := ActionBatchPackets(nil, 0)
	if len(packets) != 1 {
		t.Fatalf("got %d packets", len(packets))
	}
	want := []byte{W3GSHeader, PktIncomingAction, 6, 0, 0, 0}
	if diff := cmp.Diff(want, packets[0]); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGPSPackets(t *testing.T) {
	m := DecodeGPSHost(GPSInit(6113, 4, 0xA1B2C3D4, 2))
	want := &GPSHostMsg{ID: GPSInitID, Port: 6113, PID: 4, ReconnectKey: 0xA1B2C3D4, EmptyActions: 2}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("GPSInit mismatch (-want +got):\n%s", diff)
	}

	rc := DecodeGPSReconnect(GPSReconnectClient(4, 0xA1B2C3D4, 17))
	if rc == nil || rc.PID != 4 || rc.ReconnectKey != 0xA1B2C3D4 || rc.LastPacket != 17 {
		t.Fatalf("DecodeGPSReconnect = %+v", rc)
	}
	if DecodeGPSReconnect(GPSAckClient(1)) != nil {
		t.Fatal("reconnect decoder accepted an ack")
	}
	if ack := DecodeGPSAck(GPSAckClient(9)); ack == nil || ack.LastPacket != 9 {
		t.Fatalf("DecodeGPSAck = %+v", ack)
	}

	pkt, _, ok := NextPacket(GPSInitClient(1))
	if !ok {
		t.Fatal("NextPacket failed")
	}
	msg, err := ParseGPS(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(*GPSInitRequest); !ok {
		t.Fatalf("ParseGPS returned %T", msg)
	}
}

func TestGameInfo(t *testing.T) {
	p := &GameInfoParams{
		TFT:         true,
		War3Version: 26,
		MapGameType: 1,
		MapFlags:    0x00004802,
		MapWidth:    116,
		MapHeight:   116,
		GameName:    "dota apem",
		HostName:    "warhost",
		UpTime:      30,
		MapPath:     `Maps\Download\DotA.w3x`,
		MapCRC:      0x12345678,
		SlotsTotal:  12,
		SlotsOpen:   9,
		Port:        6112,
		HostCounter: 5,
		EntryKey:    0xDEAD,
	}
	data, err := GameInfo(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[4:8], []byte("PX3W")) {
		t.Fatalf("product = %q", data[4:8])
	}
	m := DecodeGameInfo(data)
	if m == nil {
		t.Fatal("DecodeGameInfo returned nil")
	}
	if m.GameName != p.GameName || m.HostCounter != 5 || m.EntryKey != 0xDEAD || m.Port != 6112 {
		t.Fatalf("unexpected %+v", m)
	}
	if m.SlotsTotal != 12 || m.SlotsOpen != 9 || m.UpTime != 30 || m.Version != 26 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if diff := cmp.Diff(p.StatString(), m.StatString); diff != "" {
		t.Fatalf("stat string mismatch (-want +got):\n%s", diff)
	}
	if m.MapPath() != p.MapPath {
		t.Fatalf("MapPath() = %q", m.MapPath())
	}
}

func TestRefreshAndDecreate(t *testing.T) {
	want := []byte{0xF7, 0x32, 0x10, 0x00, 5, 0, 0, 0, 3, 0, 0, 0, 12, 0, 0, 0}
	if diff := cmp.Diff(want, RefreshGame(5, 3, 12)); diff != "" {
		t.Fatalf("RefreshGame mismatch (-want +got):\n%s", diff)
	}
	want = []byte{0xF7, 0x33, 0x08, 0x00, 5, 0, 0, 0}
	if diff := cmp.Diff(want, DecreateGame(5)); diff != "" {
		t.Fatalf("DecreateGame mismatch (-want +got):\n%s", diff)
	}
}

func TestHostPacketDecoders(t *testing.T) {
	info := []byte{1, 0, 255, 0, 0, 0, 0, 96, 1, 100, 0, 0, 0, 0, 3, 1}
	sij := DecodeSlotInfoJoin(SlotInfoJoin(2, 6112, net.IPv4(8, 8, 8, 8), info))
	if sij == nil || sij.PID != 2 || sij.Port != 6112 || !bytes.Equal(sij.SlotInfo, info) {
		t.Fatalf("DecodeSlotInfoJoin = %+v", sij)
	}
	if !sij.ExternalIP.Equal(net.IPv4(8, 8, 8, 8)) {
		t.Fatalf("external ip = %v", sij.ExternalIP)
	}

	pi := DecodePlayerInfo(PlayerInfo(3, "dave", net.IPv4(1, 1, 1, 1), net.IPv4(10, 0, 0, 1)))
	if pi == nil || pi.PID != 3 || pi.Name != "dave" || !pi.InternalIP.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Fatalf("DecodePlayerInfo = %+v", pi)
	}

	laggers := []Lagger{{PID: 2, LagTime: 100}, {PID: 5, LagTime: 0}}
	if diff := cmp.Diff(laggers, DecodeStartLag(StartLag(laggers))); diff != "" {
		t.Fatalf("StartLag mismatch (-want +got):\n%s", diff)
	}
	if l, ok := DecodeStopLag(StopLag(2, 1500)); !ok || l.LagTime != 1500 {
		t.Fatalf("DecodeStopLag = %+v, %v", l, ok)
	}

	mapData := bytes.Repeat([]byte{1, 2, 3}, 1000)
	part := DecodeMapPart(MapPart(4, 1, MapPartSize, mapData))
	if part == nil || part.Start != MapPartSize || len(part.Chunk) != MapPartSize {
		t.Fatalf("DecodeMapPart = %+v", part)
	}
	if MapPart(4, 1, uint32(len(mapData)), mapData) != nil {
		t.Fatal("MapPart past the end should be nil")
	}

	if reason, ok := DecodeRejectJoin(RejectJoin(RejectFull)); !ok || reason != RejectFull {
		t.Fatalf("DecodeRejectJoin = %d, %v", reason, ok)
	}
	if code, ok := DecodeHostKickPlayer(HostKickPlayer(LeaveLobby)); !ok || code != LeaveLobby {
		t.Fatalf("DecodeHostKickPlayer = %d, %v", code, ok)
	}
}

func TestParseDispatch(t *testing.T) {
	tests := []struct {
		data []byte
		want any
	}{
		{GameLoadedSelf(), &GameLoaded{}},
		{DropReq(), &DropRequest{}},
		{PongToHost(55), &Pong{Ticks: 55}},
		{MapSizeReport(1, 4096), &MapSize{SizeFlag: 1, MapSize: 4096}},
		{LeaveGame(LeaveLost), &LeaveGameRequest{Reason: LeaveLost}},
		{KeepAlive(0xABCD), &KeepAliveReport{Checksum: 0xABCD}},
		{OutgoingAction(0, []byte{9, 9}), &IncomingAction{PID: 3, Action: []byte{9, 9}}},
	}
	for _, tt := range tests {
		pkt, _, ok := NextPacket(tt.data)
		if !ok {
			t.Fatalf("NextPacket(%x) failed", tt.data)
		}
		got, err := Parse(pkt, 3)
		if err != nil {
			t.Fatalf("Parse(0x%02X): %v", pkt.ID, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Parse(0x%02X) mismatch (-want +got):\n%s", pkt.ID, diff)
		}
	}

	if _, err := Parse(Packet{Header: W3GSHeader, ID: 0x77, Data: []byte{W3GSHeader, 0x77, 4, 0}}, 1); err == nil {
		t.Fatal("expected an error for an unknown id")
	}
}

func TestIncomingActionPacketKeepalive(t *testing.T) {
	got := IncomingActionPacket(100, nil)
	want := []byte{W3GSHeader, PktIncomingAction, 6, 0, 100, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("keepalive tick (-want +got):\n%s", diff)
	}
}
