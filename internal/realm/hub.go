// Package realm is the host's view of the realms (battle.net style
// directory servers) its games are advertised on: admin and ban lookups,
// the outgoing chat queue, game adverts and identity confirmations.
package realm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/util"
)

// Chat delivery pacing per realm. Realms disconnect clients that flood.
const (
	chatInterval = 1500 * time.Millisecond
	chatBurst    = 2
)

// Store is the persistence the hub reads admins and bans from.
type Store interface {
	IsAdmin(server, name string) (bool, error)
	CheckBan(server, name string, now time.Time) (*db.Ban, error)
	AddBan(b db.Ban) error
}

// Message is a queued chat line. Whisper is the target user, empty for
// channel chat.
type Message struct {
	Realm   string    `json:"realm"`
	Text    string    `json:"text"`
	Whisper string    `json:"whisper,omitempty"`
	Queued  time.Time `json:"queued"`
}

// Advert is a game advertised on the realms.
type Advert struct {
	HostCounter uint32           `json:"host_counter"`
	GameName    string           `json:"game_name"`
	MapPath     string           `json:"map_path"`
	Owner       string           `json:"owner"`
	Private     bool             `json:"private"`
	Phase       events.GamePhase `json:"phase"`
	SlotsUsed   int              `json:"slots_used"`
	SlotsTotal  int              `json:"slots_total"`
}

// SpoofCheck confirms that name is logged on to realm.
type SpoofCheck struct {
	Realm string
	Name  string
}

type realmState struct {
	cfg     config.RealmConfig
	outbox  []Message
	limiter *rate.Limiter
}

// Hub implements the directory the games consult. It is safe for
// concurrent use.
type Hub struct {
	mu         sync.Mutex
	realms     map[string]*realmState // by lower case name
	byID       map[uint8]string
	rootAdmins map[string]bool
	bans       map[string]db.Ban // used when no store is configured
	adverts    map[uint32]Advert
	spoofs     []SpoofCheck
	store      Store
	bus        *events.EventBus
	now        func() time.Time
	logger     zerolog.Logger
}

// NewHub builds the hub from the configured realms. store and bus may be nil.
func NewHub(cfg *config.Config, store Store, bus *events.EventBus) *Hub {
	h := &Hub{
		realms:     make(map[string]*realmState),
		byID:       make(map[uint8]string),
		rootAdmins: make(map[string]bool),
		bans:       make(map[string]db.Ban),
		adverts:    make(map[uint32]Advert),
		store:      store,
		bus:        bus,
		now:        time.Now,
		logger:     util.ComponentLogger("realm"),
	}
	for _, name := range strings.Fields(cfg.GetHost().RootAdmins) {
		h.rootAdmins[strings.ToLower(name)] = true
	}
	for _, rc := range cfg.GetRealms() {
		key := strings.ToLower(rc.Name)
		h.realms[key] = &realmState{
			cfg:     rc,
			limiter: rate.NewLimiter(rate.Every(chatInterval), chatBurst),
		}
		h.byID[rc.HostCounterID] = key
	}
	return h
}

// SetClock replaces the hub's time source.
func (h *Hub) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Realms lists the configured realm names.
func (h *Hub) Realms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.realms))
	for _, r := range h.realms {
		names = append(names, r.cfg.Name)
	}
	sort.Strings(names)
	return names
}

// RealmForHostCounterID resolves the realm a join came through from the top
// nibble of its host counter. Zero is the LAN.
func (h *Hub) RealmForHostCounterID(id uint8) (string, bool) {
	if id == 0 {
		return "", true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key, ok := h.byID[id]
	if !ok {
		return "", false
	}
	return h.realms[key].cfg.Name, true
}

// IsRootAdmin reports whether name is a root admin: listed in the host's
// root admins or in the realm's own list.
func (h *Hub) IsRootAdmin(realm, name string) bool {
	name = strings.ToLower(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rootAdmins[name] {
		return true
	}
	if r, ok := h.realms[strings.ToLower(realm)]; ok {
		for _, a := range r.cfg.RootAdmins {
			if strings.EqualFold(a, name) {
				return true
			}
		}
	}
	return false
}

// IsAdmin reports whether name is an admin on realm, from the config or the
// database.
func (h *Hub) IsAdmin(realm, name string) bool {
	h.mu.Lock()
	r, ok := h.realms[strings.ToLower(realm)]
	store := h.store
	h.mu.Unlock()

	if ok {
		for _, a := range r.cfg.Admins {
			if strings.EqualFold(a, name) {
				return true
			}
		}
	}
	if store == nil {
		return false
	}
	admin, err := store.IsAdmin(realm, name)
	if err != nil {
		h.logger.Error().Err(err).Str("realm", realm).Str("name", name).Msg("admin lookup failed")
		return false
	}
	return admin
}

// BannedName returns the reason name is banned on realm.
func (h *Hub) BannedName(realm, name string) (string, bool) {
	h.mu.Lock()
	store, now := h.store, h.now()
	if store == nil {
		b, ok := h.bans[banKey(realm, name)]
		h.mu.Unlock()
		if !ok || (!b.ExpiresAt.IsZero() && !b.ExpiresAt.After(now)) {
			return "", false
		}
		return b.Reason, true
	}
	h.mu.Unlock()

	b, err := store.CheckBan(realm, name, now)
	if errors.Is(err, db.ErrNotFound) {
		return "", false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("realm", realm).Str("name", name).Msg("ban lookup failed")
		return "", false
	}
	return b.Reason, true
}

// AddBan bans name on realm.
func (h *Hub) AddBan(realm, name, ip, gameName, admin, reason string) error {
	b := db.Ban{
		Server:   realm,
		Name:     name,
		IP:       ip,
		GameName: gameName,
		Admin:    admin,
		Reason:   reason,
	}
	h.mu.Lock()
	b.CreatedAt = h.now()
	store := h.store
	if store == nil {
		h.bans[banKey(realm, name)] = b
	}
	h.mu.Unlock()

	if store != nil {
		if err := store.AddBan(b); err != nil {
			return err
		}
	}
	if h.bus != nil {
		h.bus.Emit(context.Background(), events.Event{
			Type:   events.EventPlayerBanned,
			Source: gameName,
			Payload: events.PlayerPayload{
				GameName: gameName,
				Name:     name,
				Realm:    realm,
				Reason:   reason,
			},
		})
	}
	return nil
}

func banKey(realm, name string) string {
	return strings.ToLower(realm) + "\x00" + strings.ToLower(name)
}

// QueueChat queues a chat line for realm. An empty realm queues it on every
// realm.
func (h *Hub) QueueChat(realm, text, whisperTo string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for key, r := range h.realms {
		if realm != "" && key != strings.ToLower(realm) {
			continue
		}
		r.outbox = append(r.outbox, Message{Realm: r.cfg.Name, Text: text, Whisper: whisperTo, Queued: now})
	}
}

// Queued returns the number of undelivered messages for realm.
func (h *Hub) Queued(realm string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.realms[strings.ToLower(realm)]; ok {
		return len(r.outbox)
	}
	return 0
}

// Flush delivers the queued messages the pacing allows and returns them.
// Delivery is logged and published on the event bus.
func (h *Hub) Flush() []Message {
	h.mu.Lock()
	now := h.now()
	var sent []Message
	for _, r := range h.realms {
		for len(r.outbox) > 0 && r.limiter.AllowN(now, 1) {
			sent = append(sent, r.outbox[0])
			r.outbox = r.outbox[1:]
		}
	}
	h.mu.Unlock()

	for _, m := range sent {
		h.logger.Info().Str("realm", m.Realm).Str("to", m.Whisper).Msg(m.Text)
		if h.bus != nil {
			h.bus.Emit(context.Background(), events.Event{
				Type:   events.EventRealmChat,
				Source: m.Realm,
				Time:   now,
				Payload: events.ChatPayload{
					Realm:   m.Realm,
					To:      m.Whisper,
					Message: m.Text,
				},
			})
		}
	}
	return sent
}

// Advertise publishes or refreshes a game advert.
func (h *Hub) Advertise(a Advert) {
	h.mu.Lock()
	_, known := h.adverts[a.HostCounter]
	h.adverts[a.HostCounter] = a
	h.mu.Unlock()
	if !known {
		h.logger.Info().Str("game", a.GameName).Uint32("host_counter", a.HostCounter).Bool("private", a.Private).Msg("game advertised")
	}
}

// Unadvertise removes the advert of a game.
func (h *Hub) Unadvertise(hostCounter uint32) {
	h.mu.Lock()
	a, ok := h.adverts[hostCounter]
	delete(h.adverts, hostCounter)
	h.mu.Unlock()
	if ok {
		h.logger.Info().Str("game", a.GameName).Uint32("host_counter", hostCounter).Msg("game unadvertised")
	}
}

// Adverts lists the advertised games ordered by host counter.
func (h *Hub) Adverts() []Advert {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Advert, 0, len(h.adverts))
	for _, a := range h.adverts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostCounter < out[j].HostCounter })
	return out
}

// ConfirmSpoof records that name was verified on realm. The host hands
// confirmations to its games on the next tick.
func (h *Hub) ConfirmSpoof(realm, name string) {
	h.mu.Lock()
	h.spoofs = append(h.spoofs, SpoofCheck{Realm: realm, Name: name})
	h.mu.Unlock()
}

// TakeSpoofChecks returns and clears the pending confirmations.
func (h *Hub) TakeSpoofChecks() []SpoofCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.spoofs
	h.spoofs = nil
	return out
}
