package realm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Host.RootAdmins = "Root"
	cfg.Realms = []config.RealmConfig{
		{Name: "Europe", HostCounterID: 1, Admins: []string{"Moon"}, RootAdmins: []string{"Chief"}},
		{Name: "Asia", HostCounterID: 2},
	}
	return cfg
}

func TestRealmForHostCounterID(t *testing.T) {
	h := NewHub(testConfig(), nil, nil)
	if r, ok := h.RealmForHostCounterID(0); !ok || r != "" {
		t.Fatalf("LAN = %q, %v", r, ok)
	}
	if r, ok := h.RealmForHostCounterID(2); !ok || r != "Asia" {
		t.Fatalf("id 2 = %q, %v", r, ok)
	}
	if _, ok := h.RealmForHostCounterID(9); ok {
		t.Fatal("unknown id resolved")
	}
}

func TestAdmins(t *testing.T) {
	store, err := db.NewStore(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	store.AddAdmin("asia", "sky")

	h := NewHub(testConfig(), store, nil)
	tests := []struct {
		realm, name string
		admin, root bool
	}{
		{"europe", "moon", true, false},
		{"asia", "moon", false, false},
		{"asia", "Sky", true, false},
		{"europe", "chief", false, true},
		{"asia", "chief", false, false},
		{"asia", "root", false, true},
	}
	for _, tt := range tests {
		if got := h.IsAdmin(tt.realm, tt.name); got != tt.admin {
			t.Errorf("IsAdmin(%s, %s) = %v", tt.realm, tt.name, got)
		}
		if got := h.IsRootAdmin(tt.realm, tt.name); got != tt.root {
			t.Errorf("IsRootAdmin(%s, %s) = %v", tt.realm, tt.name, got)
		}
	}
}

func TestBansWithAndWithoutStore(t *testing.T) {
	store, err := db.NewStore(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for name, h := range map[string]*Hub{
		"memory": NewHub(testConfig(), nil, nil),
		"sqlite": NewHub(testConfig(), store, nil),
	} {
		t.Run(name, func(t *testing.T) {
			if _, banned := h.BannedName("Europe", "Flamer"); banned {
				t.Fatal("banned before AddBan")
			}
			if err := h.AddBan("Europe", "Flamer", "1.2.3.4", "dota", "moon", "flaming"); err != nil {
				t.Fatal(err)
			}
			reason, banned := h.BannedName("europe", "flamer")
			if !banned || reason != "flaming" {
				t.Fatalf("BannedName = %q, %v", reason, banned)
			}
			if _, banned := h.BannedName("asia", "flamer"); banned {
				t.Fatal("ban applies to another realm")
			}
		})
	}
}

func TestChatQueuePacing(t *testing.T) {
	h := NewHub(testConfig(), nil, nil)
	now := time.Unix(1000, 0)
	h.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		h.QueueChat("europe", "hello", "")
	}
	h.QueueChat("", "to everyone", "")
	if h.Queued("Europe") != 6 || h.Queued("asia") != 1 {
		t.Fatalf("queued europe=%d asia=%d", h.Queued("Europe"), h.Queued("asia"))
	}

	sent := h.Flush()
	if len(sent) != chatBurst+1 {
		t.Fatalf("first flush sent %d", len(sent))
	}
	if h.Queued("europe") != 6-chatBurst || h.Queued("asia") != 0 {
		t.Fatalf("after flush europe=%d asia=%d", h.Queued("europe"), h.Queued("asia"))
	}

	now = now.Add(chatInterval)
	if sent := h.Flush(); len(sent) != 1 {
		t.Fatalf("second flush sent %d", len(sent))
	}
}

func TestAdvertsAndSpoofChecks(t *testing.T) {
	h := NewHub(testConfig(), nil, nil)
	h.Advertise(Advert{HostCounter: 2, GameName: "b"})
	h.Advertise(Advert{HostCounter: 1, GameName: "a"})
	h.Advertise(Advert{HostCounter: 1, GameName: "a", SlotsUsed: 3})
	ads := h.Adverts()
	if len(ads) != 2 || ads[0].HostCounter != 1 || ads[0].SlotsUsed != 3 {
		t.Fatalf("adverts = %+v", ads)
	}
	h.Unadvertise(1)
	if len(h.Adverts()) != 1 {
		t.Fatal("advert not removed")
	}

	h.ConfirmSpoof("europe", "moon")
	if got := h.TakeSpoofChecks(); len(got) != 1 || got[0].Name != "moon" {
		t.Fatalf("spoofs = %+v", got)
	}
	if len(h.TakeSpoofChecks()) != 0 {
		t.Fatal("spoofs not cleared")
	}
}
