package game

import (
	"testing"
	"time"

	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/protocol"
	"github.com/warhost-project/warhost/internal/slot"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		cmd     Command
		payload string
	}{
		{"kick bob", CmdKick, "bob"},
		{"K   bob ", CmdKick, "bob"},
		{"compcolor 2 red", CmdCompColour, "2 red"},
		{"start", CmdStart, ""},
		{"sd", CmdStatsDotA, ""},
		{"dance", CmdUnknown, ""},
		{"", CmdUnknown, ""},
	}
	for _, tt := range tests {
		cmd, payload := ParseCommand(tt.text)
		if cmd != tt.cmd || payload != tt.payload {
			t.Errorf("ParseCommand(%q) = %v %q, want %v %q", tt.text, cmd, payload, tt.cmd, tt.payload)
		}
	}
}

func TestCommandTiers(t *testing.T) {
	for _, c := range []Command{CmdStats, CmdStatsDotA, CmdVersion, CmdVoteKick, CmdYes, CmdCheckMe} {
		if c.AdminOnly() {
			t.Errorf("%s is admin only", c)
		}
	}
	for _, c := range []Command{CmdKick, CmdBan, CmdStart, CmdPriv, CmdSay} {
		if !c.AdminOnly() {
			t.Errorf("%s is open to everyone", c)
		}
	}
	if CmdKick.String() != "kick" || CmdBan.String() != "addban" || CmdUnknown.String() != "unknown" {
		t.Fatal("command names")
	}
}

func TestAdminCommandRefusedForPlayers(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	b := e.mustJoin("B")
	target := b.player()

	a.chat("!kick B")
	e.step(time.Millisecond)
	if left, _ := target.Left(); left {
		t.Fatal("player kicked by a non-admin")
	}

	o := e.mustJoin("Owner")
	o.chat("!kick B")
	e.step(time.Millisecond)
	left, reason := target.Left()
	if !left || reason != "was kicked by player [Owner]" {
		t.Fatalf("left=%v reason=%q", left, reason)
	}
	if target.leftCode != protocol.LeaveLobby {
		t.Fatalf("leave code %d", target.leftCode)
	}
	if len(ofID(b.drain(), protocol.W3GSHeader, protocol.PktHostKickPlayer)) != 1 {
		t.Fatal("no kick packet")
	}
}

func TestLockedGameRefusesAdmins(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	o := e.mustJoin("Owner")
	a := e.mustJoin("A")
	c := e.mustJoin("C")
	e.dir.admins[dirKey("", "A")] = true

	o.chat("!lock")
	e.step(time.Millisecond)
	if !e.g.Locked() {
		t.Fatal("game not locked")
	}
	a.drain()
	a.chat("!kick C")
	e.step(time.Millisecond)
	if left, _ := c.player().Left(); left {
		t.Fatal("admin ran a command in a locked game")
	}
	if !hasLine(chatLines(a.drain()), "only the game owner and root admins") {
		t.Fatal("refusal not explained")
	}

	e.dir.roots[dirKey("", "A")] = true
	a.chat("!kick C")
	e.step(time.Millisecond)
	if e.g.playerFromName("C") != nil {
		t.Fatal("root admin refused")
	}
}

func TestStatsCommand(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	a.drain()

	// A full realm queue makes the bot ignore plain players.
	e.dir.queued = 3
	a.chat("!stats")
	e.step(time.Millisecond)
	if hasLine(chatLines(a.drain()), "hasn't played") {
		t.Fatal("command answered with a full queue")
	}

	e.dir.queued = 0
	a.chat("!stats")
	e.step(time.Millisecond)
	if !hasLine(chatLines(a.drain()), "[A] hasn't played any games here") {
		t.Fatal("missing stats not reported")
	}

	// One query per five seconds.
	e.store.summaries["bob"] = &db.PlayerSummary{Name: "Bob", Games: 4, AvgLoadingTime: 12 * time.Second, AvgLeftPercent: 90}
	a.chat("!stats Bob")
	e.step(time.Millisecond)
	if hasLine(chatLines(a.drain()), "has played") {
		t.Fatal("rate limit not applied")
	}
	e.step(5 * time.Second)
	a.send(protocol.PongToHost(1))
	a.chat("!stats Bob")
	e.step(time.Millisecond)
	if !hasLine(chatLines(a.drain()), "[Bob] has played 4 games. Average loading time: 12.00 seconds") {
		t.Fatal("stats not reported")
	}
}

func TestBanCommands(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	b := e.mustJoin("B")
	c := e.mustJoin("C")

	e.g.RunCommand("!ban B griefing")
	if len(e.dir.bans) != 1 || e.dir.bans[0] != dirKey("", "B") {
		t.Fatalf("bans %v", e.dir.bans)
	}
	if !hasLine(chatLines(a.drain()), "Player [B] was banned by player [operator]") {
		t.Fatal("ban not announced")
	}

	e.g.RunCommand("!banlast")
	if len(e.dir.bans) != 1 {
		t.Fatal("banlast with nobody gone")
	}

	e.load(a, b, c)
	b.conn.Close()
	e.step(time.Millisecond)
	e.step(time.Millisecond)
	e.g.RunCommand("!banlast leaver")
	if len(e.dir.bans) != 2 || e.dir.bans[1] != dirKey("", "B") {
		t.Fatalf("bans %v", e.dir.bans)
	}

	// After the start, players who left can still be banned by name.
	e.dir.bans = nil
	e.g.RunCommand("!ban b")
	if len(e.dir.bans) != 1 {
		t.Fatalf("bans %v", e.dir.bans)
	}
}

func TestRehostCommand(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	old := e.g.HostCounter()

	e.g.RunCommand("!priv second round")
	if e.g.HostCounter() == old {
		t.Fatal("host counter kept")
	}
	if e.g.Name() != "second round" || !e.g.private {
		t.Fatalf("name %q private %v", e.g.Name(), e.g.private)
	}
	if len(e.dir.removed) == 0 || e.dir.removed[0] != old {
		t.Fatal("old advert not removed")
	}
	ad, ok := e.dir.adverts[e.g.HostCounter()]
	if !ok || ad.GameName != "second round" || !ad.Private {
		t.Fatalf("advert %+v", ad)
	}

	e.g.RunCommand("!pub")
	if e.g.Name() != "second round" {
		t.Fatal("empty rehost accepted")
	}
}

func TestChatRelayCommands(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	e.g.RunCommand("!say hello realm")
	e.g.RunCommand("!w Bob hi there")
	e.g.RunCommand("!w Bob")
	want := []string{"||hello realm", "|Bob|hi there"}
	if len(e.dir.chat) != len(want) {
		t.Fatalf("chat %v", e.dir.chat)
	}
	for i := range want {
		if e.dir.chat[i] != want[i] {
			t.Errorf("chat[%d] = %q, want %q", i, e.dir.chat[i], want[i])
		}
	}
}

func TestLatencyAndSyncLimitCommands(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	tests := []struct {
		cmd  string
		want func() bool
	}{
		{"!latency 5", func() bool { return e.g.Latency() == 10*time.Millisecond }},
		{"!latency 1000", func() bool { return e.g.Latency() == 500*time.Millisecond }},
		{"!latency 150", func() bool { return e.g.Latency() == 150*time.Millisecond }},
		{"!latency fast", func() bool { return e.g.Latency() == 150*time.Millisecond }},
		{"!synclimit 5", func() bool { return e.g.SyncLimit() == 10 }},
		{"!synclimit 20000", func() bool { return e.g.SyncLimit() == 10000 }},
	}
	for _, tt := range tests {
		e.g.RunCommand(tt.cmd)
		if !tt.want() {
			t.Errorf("%s: latency %s sync limit %d", tt.cmd, e.g.Latency(), e.g.SyncLimit())
		}
	}
}

func TestMuteCommands(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	b := e.mustJoin("B")
	b.drain()

	e.g.RunCommand("!mute A")
	a.chat("spam")
	e.step(time.Millisecond)
	if hasLine(chatLines(b.drain()), "spam") {
		t.Fatal("muted player relayed")
	}

	e.g.RunCommand("!unmute A")
	a.chat("hello")
	e.step(time.Millisecond)
	if !hasLine(chatLines(b.drain()), "hello") {
		t.Fatal("unmuted player not relayed")
	}

	e.g.RunCommand("!muteall")
	a.chat("quiet")
	e.step(time.Millisecond)
	if hasLine(chatLines(b.drain()), "quiet") {
		t.Fatal("lobby chat relayed while muted")
	}
}

func TestSlotCommands(t *testing.T) {
	e := newEnv(t, parseMap(t, forcesMap), nil)
	a := e.mustJoin("A")

	e.g.RunCommand("!swap 1 3")
	if e.g.sidFromPID(a.player().pid) != 2 {
		t.Fatal("swap not applied")
	}
	e.g.RunCommand("!close 2 4")
	s := e.g.Slots()
	if s[1].Status != slot.StatusClosed || s[3].Status != slot.StatusClosed {
		t.Fatalf("close: %v", s)
	}
	e.g.RunCommand("!openall")
	for i, s := range e.g.Slots() {
		if s.Status == slot.StatusClosed {
			t.Fatalf("slot %d still closed", i)
		}
	}
	e.g.RunCommand("!comp 1 2")
	if s := e.g.Slots()[0]; !s.Computer || s.ComputerType != 2 {
		t.Fatalf("computer slot %s", s)
	}
	e.g.RunCommand("!comphandicap 1 80")
	if e.g.Slots()[0].Handicap != 80 {
		t.Fatal("computer handicap not set")
	}
}

func TestOwnerCommand(t *testing.T) {
	e := newEnv(t, parseMap(t, duelMap), nil)
	a := e.mustJoin("A")
	e.g.RunCommand("!owner A")
	if e.g.Owner() != "A" || !a.player().Reserved() {
		t.Fatalf("owner %q", e.g.Owner())
	}
	a.chat("!hold Zed")
	e.step(time.Millisecond)
	if !e.g.isReserved("zed") {
		t.Fatal("new owner could not run commands")
	}
}
