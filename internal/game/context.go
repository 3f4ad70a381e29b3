// Package game is the per-match session engine: the lobby slot table, the
// join sequence, map downloads, the loading and running phases with action
// relay, lag screens and GProxy reconnects, chat commands and teardown.
//
// A Game is owned by one goroutine. Every method must be called from the
// host reactor; nothing in this package locks.
package game

import (
	"net"
	"time"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/realm"
)

// Directory is the realm service a game consults for identities, bans and
// adverts.
type Directory interface {
	RealmForHostCounterID(id uint8) (string, bool)
	IsAdmin(realm, name string) bool
	IsRootAdmin(realm, name string) bool
	BannedName(realm, name string) (string, bool)
	AddBan(realm, name, ip, gameName, admin, reason string) error
	QueueChat(realm, text, whisperTo string)
	Queued(realm string) int
	Advertise(a realm.Advert)
	Unadvertise(hostCounter uint32)
}

// Store persists finished games and answers stats queries.
type Store interface {
	SaveGame(g db.GameRecord, players []db.GamePlayerRecord, dota *db.DotAGameRecord) (string, error)
	PlayerSummary(name string) (*db.PlayerSummary, error)
	DotASummary(name string) (*db.DotASummary, error)
	LogDownload(d db.DownloadRecord) error
}

// HostCounters hands out process-unique host counters.
type HostCounters interface {
	Next() uint32
}

// Broadcaster sends datagrams to the local network.
type Broadcaster interface {
	Broadcast(packet []byte)
}

// Context carries everything a game shares with the rest of the process.
// Directory, Store, Bus and LAN may be nil.
type Context struct {
	Config      *config.Config
	Directory   Directory
	Store       Store
	Bus         *events.EventBus
	HostCounter HostCounters
	LAN         Broadcaster

	// Now is the clock every timer reads.
	Now func() time.Time

	// MapDir is where map files are read from.
	MapDir string

	// ExternalIP is advertised to joining clients. Nil sends 0.0.0.0.
	ExternalIP net.IP

	// Version is reported by the version command.
	Version string
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Context) directory() Directory {
	if c.Directory == nil {
		return offlineDirectory{}
	}
	return c.Directory
}

// offlineDirectory serves LAN-only hosting: no realms, admins or bans.
type offlineDirectory struct{}

func (offlineDirectory) RealmForHostCounterID(uint8) (string, bool)                  { return "", false }
func (offlineDirectory) IsAdmin(string, string) bool                                 { return false }
func (offlineDirectory) IsRootAdmin(string, string) bool                             { return false }
func (offlineDirectory) BannedName(string, string) (string, bool)                    { return "", false }
func (offlineDirectory) AddBan(string, string, string, string, string, string) error { return nil }
func (offlineDirectory) QueueChat(string, string, string)                            {}
func (offlineDirectory) Queued(string) int                                           { return 0 }
func (offlineDirectory) Advertise(realm.Advert)                                      {}
func (offlineDirectory) Unadvertise(uint32)                                          {}
