package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/game"
	"github.com/warhost-project/warhost/internal/server"
)

const testToken = "s3cret"

type fakeHost struct {
	games   []game.Snapshot
	created []server.CreateRequest
	said    map[uint32]string
	ran     []string
}

func (f *fakeHost) Games() []game.Snapshot { return append([]game.Snapshot(nil), f.games...) }

func (f *fakeHost) Game(hc uint32) (game.Snapshot, bool) {
	for _, g := range f.games {
		if g.HostCounter == hc {
			return g, true
		}
	}
	return game.Snapshot{}, false
}

func (f *fakeHost) Summary() server.Summary {
	return server.Summary{Lobbies: len(f.games), GamesHosted: len(f.created)}
}

func (f *fakeHost) CreateGame(_ context.Context, req server.CreateRequest) (uint32, error) {
	if len(f.games) >= 2 {
		return 0, server.ErrTooManyGames
	}
	f.created = append(f.created, req)
	hc := uint32(len(f.games) + 1)
	f.games = append(f.games, game.Snapshot{Name: req.Name, HostCounter: hc})
	return hc, nil
}

func (f *fakeHost) Unhost(_ context.Context, hc uint32) error {
	for i, g := range f.games {
		if g.HostCounter == hc {
			f.games = append(f.games[:i], f.games[i+1:]...)
			return nil
		}
	}
	return server.ErrGameNotFound
}

func (f *fakeHost) Command(_ context.Context, hc uint32, text string) error {
	if _, ok := f.Game(hc); !ok {
		return server.ErrGameNotFound
	}
	f.ran = append(f.ran, text)
	return nil
}

func (f *fakeHost) Say(_ context.Context, hc uint32, msg string) error {
	if f.said == nil {
		f.said = make(map[uint32]string)
	}
	f.said[hc] = msg
	return nil
}

type apiEnv struct {
	t     *testing.T
	s     *Server
	host  *fakeHost
	store *db.Store
	cfg   *config.Config
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store, err := db.NewStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	cfg := config.DefaultConfig()
	cfg.API.Token = testToken
	cfg.API.RateLimitRPS = 0
	host := &fakeHost{games: []game.Snapshot{{
		Name:        "dota",
		HostCounter: 1,
		Phase:       events.PhaseRunning,
		Players: []game.PlayerSnapshot{
			{PID: 2, Name: "Alice", Realm: "Azeroth", Ping: 80},
			{PID: 3, Name: "Bob", GProxy: true},
		},
	}}}
	s := NewServer(cfg, bus, Deps{
		Games:   host,
		Control: host,
		Store:   store,
		Lag:     server.NewLagMonitor(bus),
		Version: "test",
	})
	return &apiEnv{t: t, s: s, host: host, store: store, cfg: cfg}
}

func (e *apiEnv) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
}

func TestPublicRoutes(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(http.MethodGet, "/api/games", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var games struct {
		Games []struct {
			Name  string `json:"name"`
			Phase string `json:"phase"`
		} `json:"games"`
		Total int `json:"total"`
	}
	decode(t, w, &games)
	if games.Total != 1 || games.Games[0].Name != "dota" || games.Games[0].Phase != "running" {
		t.Fatalf("games %+v", games)
	}

	w = e.do(http.MethodGet, "/api/games?phase=lobby", nil, "")
	decode(t, w, &games)
	if games.Total != 0 {
		t.Fatalf("phase filter kept %d games", games.Total)
	}

	if w := e.do(http.MethodGet, "/api/games/1", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("game status %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/games/9", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing game status %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/games/x", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad host counter status %d", w.Code)
	}

	var players struct {
		Players []playerEntry `json:"players"`
	}
	decode(t, e.do(http.MethodGet, "/api/players", nil, ""), &players)
	want := []playerEntry{
		{Game: "dota", HostCounter: 1, Name: "Alice", Realm: "Azeroth", Ping: 80},
		{Game: "dota", HostCounter: 1, Name: "Bob", GProxy: true},
	}
	if diff := cmp.Diff(want, players.Players); diff != "" {
		t.Fatalf("players (-want +got):\n%s", diff)
	}

	if w := e.do(http.MethodGet, "/api/nope", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status %d", w.Code)
	}
}

func TestControlRequiresToken(t *testing.T) {
	e := newAPIEnv(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(http.MethodGet, "/api/control/config", nil, tt.token); w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
		})
	}

	e.s = NewServer(func() *config.Config { c := config.DefaultConfig(); c.API.Token = ""; return c }(), events.NewEventBus(), e.s.deps)
	if w := e.do(http.MethodGet, "/api/control/config", nil, "anything"); w.Code != http.StatusForbidden {
		t.Fatalf("control routes open without a token: %d", w.Code)
	}
}

func TestGameControl(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(http.MethodPost, "/api/control/games", server.CreateRequest{Name: "duel", Map: "duel"}, testToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", w.Code, w.Body)
	}
	var created struct {
		HostCounter uint32 `json:"host_counter"`
	}
	decode(t, w, &created)
	if created.HostCounter != 2 || e.host.created[0].Creator != "api" {
		t.Fatalf("created %+v %+v", created, e.host.created)
	}
	if w := e.do(http.MethodPost, "/api/control/games", server.CreateRequest{Name: "third"}, testToken); w.Code != http.StatusConflict {
		t.Fatalf("over limit status %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/control/games", server.CreateRequest{}, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("nameless status %d", w.Code)
	}

	if w := e.do(http.MethodPost, "/api/control/games/2/command", commandRequest{Text: "!start"}, testToken); w.Code != http.StatusOK {
		t.Fatalf("command status %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/control/games/7/command", commandRequest{Text: "!start"}, testToken); w.Code != http.StatusNotFound {
		t.Fatalf("command on missing game status %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/control/say", sayRequest{Message: "restart soon"}, testToken); w.Code != http.StatusOK {
		t.Fatalf("say status %d", w.Code)
	}
	if diff := cmp.Diff(map[uint32]string{0: "restart soon"}, e.host.said); diff != "" {
		t.Fatalf("said (-want +got):\n%s", diff)
	}

	if w := e.do(http.MethodDelete, "/api/control/games/2", nil, testToken); w.Code != http.StatusOK {
		t.Fatalf("unhost status %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/api/control/games/2", nil, testToken); w.Code != http.StatusNotFound {
		t.Fatalf("second unhost status %d", w.Code)
	}
	if diff := cmp.Diff([]string{"!start"}, e.host.ran); diff != "" {
		t.Fatalf("commands (-want +got):\n%s", diff)
	}
}

func TestBanRoutes(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(http.MethodPost, "/api/control/bans", banRequest{Server: "Azeroth", Name: "Grubby", Reason: "flame", Hours: 2}, testToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("ban status %d: %s", w.Code, w.Body)
	}
	b, err := e.store.CheckBan("azeroth", "grubby", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.Admin != "api" || b.ExpiresAt.IsZero() {
		t.Fatalf("ban %+v", b)
	}

	var list struct {
		Total int `json:"total"`
	}
	decode(t, e.do(http.MethodGet, "/api/control/bans", nil, testToken), &list)
	if list.Total != 1 {
		t.Fatalf("listed %d bans", list.Total)
	}

	if w := e.do(http.MethodDelete, "/api/control/bans?server=Azeroth&name=GRUBBY", nil, testToken); w.Code != http.StatusOK {
		t.Fatalf("unban status %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/api/control/bans?server=Azeroth&name=GRUBBY", nil, testToken); w.Code != http.StatusNotFound {
		t.Fatalf("second unban status %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/api/control/bans", nil, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("nameless unban status %d", w.Code)
	}
}

func TestHistoryAndStats(t *testing.T) {
	e := newAPIEnv(t)
	players := []db.GamePlayerRecord{{Name: "Alice", Left: 20 * time.Minute}}
	if _, err := e.store.SaveGame(db.GameRecord{GameName: "dota", Duration: 20 * time.Minute}, players, nil); err != nil {
		t.Fatal(err)
	}

	var history struct {
		Games []db.GameRecord `json:"games"`
	}
	decode(t, e.do(http.MethodGet, "/api/history?limit=5", nil, ""), &history)
	if len(history.Games) != 1 || history.Games[0].GameName != "dota" {
		t.Fatalf("history %+v", history)
	}
	if w := e.do(http.MethodGet, "/api/history?limit=-1", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status %d", w.Code)
	}

	var stats struct {
		Player db.PlayerSummary `json:"player"`
	}
	decode(t, e.do(http.MethodGet, "/api/stats/alice", nil, ""), &stats)
	if stats.Player.Games != 1 {
		t.Fatalf("stats %+v", stats)
	}
	if w := e.do(http.MethodGet, "/api/stats/nobody", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown player status %d", w.Code)
	}
}

func TestSetGameField(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(http.MethodPut, "/api/control/config/game", gameFieldRequest{Key: "latency_ms", Value: 150}, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	if got := e.cfg.GetGame().Latency; got != 150 {
		t.Fatalf("latency %d", got)
	}

	if w := e.do(http.MethodPut, "/api/control/config/game", gameFieldRequest{Key: "latency_ms", Value: 5000}, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("out of range status %d", w.Code)
	}
	if got := e.cfg.GetGame().Latency; got != 150 {
		t.Fatalf("invalid latency kept: %d", got)
	}
	if w := e.do(http.MethodPut, "/api/control/config/game", gameFieldRequest{Key: "nope", Value: 1}, testToken); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown key status %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	e := newAPIEnv(t)
	e.cfg.API.RateLimitRPS = 1
	e.s = NewServer(e.cfg, events.NewEventBus(), e.s.deps)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, e.do(http.MethodGet, "/api/ping", nil, "").Code)
	}
	if diff := cmp.Diff([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes); diff != "" {
		t.Fatalf("codes (-want +got):\n%s", diff)
	}
}
