package game

import (
	"testing"
	"time"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
)

func TestJoinRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *testEnv)
		join  func(e *testEnv) *client
		want  uint32
	}{
		{
			name: "wrong entry key",
			join: func(e *testEnv) *client { return e.joinWith("A", e.g.HostCounter(), e.g.EntryKey()+1) },
			want: protocol.RejectWrongPassword,
		},
		{
			name: "unknown realm",
			join: func(e *testEnv) *client { return e.joinWith("A", 7<<28|e.g.HostCounter(), 0) },
			want: protocol.RejectFull,
		},
		{
			name:  "duplicate name",
			setup: func(e *testEnv) { e.mustJoin("Alice") },
			join:  func(e *testEnv) *client { return e.join("alice") },
			want:  protocol.RejectFull,
		},
		{
			name: "virtual host name",
			join: func(e *testEnv) *client { return e.join(e.g.virtualHostName) },
			want: protocol.RejectFull,
		},
		{
			name: "space in name",
			join: func(e *testEnv) *client { return e.join("a b") },
			want: protocol.RejectFull,
		},
		{
			name: "overlong name",
			join: func(e *testEnv) *client { return e.join("abcdefghijklmnop") },
			want: protocol.RejectFull,
		},
		{
			name: "started",
			setup: func(e *testEnv) {
				e.mustJoin("A")
				e.mustJoin("B")
				e.start()
			},
			join: func(e *testEnv) *client { return e.join("C") },
			want: protocol.RejectStarted,
		},
		{
			name: "full",
			setup: func(e *testEnv) {
				e.mustJoin("A")
				e.mustJoin("B")
			},
			join: func(e *testEnv) *client { return e.join("C") },
			want: protocol.RejectFull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, parseMap(t, twoSlotMap), nil)
			if tt.setup != nil {
				tt.setup(e)
			}
			c := tt.join(e)
			got, ok := c.rejected(t)
			if !ok {
				t.Fatal("join not rejected")
			}
			if got != tt.want {
				t.Fatalf("reject reason %d, want %d", got, tt.want)
			}
			if !c.conn.Closed() {
				t.Fatal("connection left open")
			}
		})
	}
}

func TestJoinRealm(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	// Realm joins skip the entry key check.
	c := e.joinWith("Bob", 1<<28|e.g.HostCounter(), 0)
	p := c.player()
	if p == nil {
		t.Fatal("realm join refused")
	}
	if p.JoinedRealm() != "uswest.battle.net" {
		t.Fatalf("realm %q", p.JoinedRealm())
	}
	if p.Spoofed() {
		t.Fatal("realm player spoofed without a whois")
	}

	e.g.EventSpoofCheck("uswest.battle.net", "bob")
	if !p.Spoofed() {
		t.Fatal("spoof check not applied")
	}
}

func TestJoinSequence(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	a := e.mustJoin("A")
	a.drain()
	b := e.mustJoin("B")

	pkts := b.drain()
	if len(pkts) == 0 || pkts[0].ID != protocol.PktSlotInfoJoin {
		t.Fatal("join answer is not SLOTINFOJOIN")
	}
	m := protocol.DecodeSlotInfoJoin(pkts[0].Data)
	if m == nil || m.PID != b.player().pid {
		t.Fatalf("slot info join %+v", m)
	}
	if m.Port != 50002 {
		t.Fatalf("port %d", m.Port)
	}
	infos := ofID(pkts, protocol.W3GSHeader, protocol.PktPlayerInfo)
	if len(infos) != 2 {
		t.Fatalf("%d player infos, want virtual host and A", len(infos))
	}
	if len(ofID(pkts, protocol.W3GSHeader, protocol.PktMapCheck)) != 1 {
		t.Fatal("no map check")
	}

	// A learns about B and gets the new slot table.
	apkts := a.drain()
	if len(ofID(apkts, protocol.W3GSHeader, protocol.PktPlayerInfo)) != 1 {
		t.Fatal("A not told about B")
	}
	if len(ofID(apkts, protocol.W3GSHeader, protocol.PktSlotInfo)) == 0 {
		t.Fatal("A got no slot info")
	}
}

func TestJoinVirtualHostMakesRoom(t *testing.T) {
	m := parseMap(t, duelMap)
	e := newEnv(t, m, nil)
	for i := 0; i < 11; i++ {
		e.mustJoin(string(rune('A' + i)))
	}
	if e.g.virtualHostPID == slot.NoPID {
		t.Fatal("virtual host gone with 11 players")
	}
	e.mustJoin("L")
	if e.g.virtualHostPID != slot.NoPID {
		t.Fatal("virtual host kept for the 12th player")
	}
	if e.g.numPlayers() != 12 {
		t.Fatalf("%d players", e.g.numPlayers())
	}
	e.step(time.Second)
	if e.g.virtualHostPID != slot.NoPID {
		t.Fatal("virtual host recreated in a full lobby")
	}
}

func TestJoinBanned(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	a := e.mustJoin("A")
	a.drain()
	e.dir.banned[dirKey("", "Evil")] = "griefing"

	c := e.join("Evil")
	pkts := c.drain()
	if len(pkts) != 1 || pkts[0].ID != protocol.PktSlotInfoJoin {
		t.Fatalf("banned player got %d packets", len(pkts))
	}
	if !c.conn.Closed() {
		t.Fatal("banned connection left open")
	}
	if e.g.playerFromName("Evil") != nil {
		t.Fatal("banned player admitted")
	}
	if !hasLine(chatLines(a.drain()), "griefing") {
		t.Fatal("ban reason not announced")
	}

	// The announcement is made once per name.
	e.join("Evil")
	if hasLine(chatLines(a.drain()), "griefing") {
		t.Fatal("ban announced twice")
	}
}

func TestJoinBanCheckDisabled(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), func(c *config.Config) { c.Game.BanMethod = 0 })
	e.dir.banned[dirKey("", "Evil")] = "griefing"
	e.mustJoin("Evil")
}

func TestJoinReservedKicksForRoom(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	a := e.mustJoin("A")
	e.mustJoin("B")
	e.g.RunCommand("!hold Carol")

	a.drain()
	c := e.mustJoin("Carol")
	if !c.player().Reserved() {
		t.Fatal("held player not reserved")
	}
	if a.player() != nil {
		t.Fatal("A still in the game")
	}
	kicks := ofID(a.drain(), protocol.W3GSHeader, protocol.PktHostKickPlayer)
	if len(kicks) != 1 {
		t.Fatal("A not kicked to make room")
	}
	if sid := e.g.sidFromPID(c.player().pid); sid != 0 {
		t.Fatalf("Carol seated in %d", sid)
	}
}

func TestJoinOwnerEvictsFakePlayer(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	e.g.RunCommand("!fakeplayer")
	if len(e.g.fakes) != 1 {
		t.Fatal("fake player not created")
	}
	e.mustJoin("A")
	e.g.RunCommand("!hold A")

	// Every real player is reserved, so the owner takes the fake's slot.
	o := e.mustJoin("Owner")
	if len(e.g.fakes) != 0 {
		t.Fatal("fake player kept")
	}
	if sid := e.g.sidFromPID(o.player().pid); sid != 0 {
		t.Fatalf("owner seated in %d", sid)
	}
	if e.g.playerFromName("A") == nil {
		t.Fatal("reserved player evicted")
	}
}

func TestJoinSpoofCheckLAN(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), func(c *config.Config) { c.Game.SpoofCheckLAN = false })
	if e.mustJoin("A").player().Spoofed() {
		t.Fatal("LAN player spoofed with SpoofCheckLAN off")
	}
}

func TestJoinAutoLock(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), func(c *config.Config) { c.Game.AutoLock = true })
	e.mustJoin("Owner")
	if !e.g.Locked() {
		t.Fatal("owner join did not lock")
	}
	e.g.playerFromName("Owner").conn.Close()
	e.step(10 * time.Millisecond)
	e.step(10 * time.Millisecond)
	if e.g.Locked() {
		t.Fatal("lock kept after the owner left")
	}
}

func TestEmptySlotLeastDownloaded(t *testing.T) {
	e := newEnv(t, parseMap(t, twoSlotMap), nil)
	e.mustJoin("A")
	e.mustJoin("B")

	// 255 is an unreported download; a finished one has less progress.
	e.g.slots[0].DownloadStatus = 255
	e.g.slots[1].DownloadStatus = 100
	if sid := e.g.emptySlot(true); sid != 1 {
		t.Fatalf("evicted slot %d, want 1", sid)
	}

	e.g.slots[0].DownloadStatus = 40
	if sid := e.g.emptySlot(true); sid != 0 {
		t.Fatalf("evicted slot %d, want 0", sid)
	}
}

func TestJoinWithoutDirectory(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	ctx := *e.g.ctx
	ctx.Directory = nil
	g, err := New(&ctx, Options{Name: "offline", Map: parseMap(t, duelMap), Owner: "Owner"})
	if err != nil {
		t.Fatal(err)
	}
	e.g = g
	e.g.Update(e.now)

	a := e.mustJoin("A")
	a.chat("!yes")
	e.step(time.Millisecond)

	b := e.joinWith("Bob", 1<<28|e.g.HostCounter(), 0)
	if b.player() != nil {
		t.Fatal("realm join admitted without realms")
	}
	if _, ok := b.rejected(t); !ok {
		t.Fatal("realm join not rejected")
	}

	e.g.Exit()
	if !e.step(time.Millisecond) {
		t.Fatal("exit ignored")
	}
}
