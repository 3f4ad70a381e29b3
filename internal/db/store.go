package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store is the host's persistent state. Names are stored lower case; all
// lookups are case-insensitive.
type Store struct {
	db *Database
}

// Ban is a name ban on one realm. An empty Server bans LAN players.
type Ban struct {
	ID        int64     `json:"id"`
	Server    string    `json:"server"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	GameName  string    `json:"game_name"`
	Admin     string    `json:"admin"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero: permanent
}

// GameRecord is one finished game.
type GameRecord struct {
	ID          string        `json:"id"`
	Server      string        `json:"server"`
	Map         string        `json:"map"`
	GameName    string        `json:"game_name"`
	OwnerName   string        `json:"owner_name"`
	CreatorName string        `json:"creator_name"`
	Duration    time.Duration `json:"duration"`
	Private     bool          `json:"private"`
	Winner      int           `json:"winner"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GamePlayerRecord is one player of a finished game.
type GamePlayerRecord struct {
	Name        string        `json:"name"`
	IP          string        `json:"ip"`
	Spoofed     bool          `json:"spoofed"`
	Realm       string        `json:"realm"`
	Reserved    bool          `json:"reserved"`
	LoadingTime time.Duration `json:"loading_time"`
	Left        time.Duration `json:"left"`
	LeftReason  string        `json:"left_reason"`
	Team        uint8         `json:"team"`
	Colour      uint8         `json:"colour"`
}

// DotAPlayerRecord is one colour's DotA tally.
type DotAPlayerRecord struct {
	Colour       uint8     `json:"colour"`
	NewColour    uint8     `json:"new_colour"`
	Hero         string    `json:"hero"`
	Kills        uint32    `json:"kills"`
	Deaths       uint32    `json:"deaths"`
	Assists      uint32    `json:"assists"`
	CreepKills   uint32    `json:"creep_kills"`
	CreepDenies  uint32    `json:"creep_denies"`
	NeutralKills uint32    `json:"neutral_kills"`
	TowerKills   uint32    `json:"tower_kills"`
	RaxKills     uint32    `json:"rax_kills"`
	CourierKills uint32    `json:"courier_kills"`
	Gold         uint32    `json:"gold"`
	Items        [6]string `json:"items"`
}

// DotAGameRecord is the DotA part of a finished game.
type DotAGameRecord struct {
	Winner  int                `json:"winner"`
	Minutes uint32             `json:"minutes"`
	Seconds uint32             `json:"seconds"`
	Players []DotAPlayerRecord `json:"players"`
}

// DownloadRecord logs one completed map download.
type DownloadRecord struct {
	Map          string        `json:"map"`
	MapSize      uint32        `json:"map_size"`
	Name         string        `json:"name"`
	IP           string        `json:"ip"`
	Spoofed      bool          `json:"spoofed"`
	Realm        string        `json:"realm"`
	DownloadTime time.Duration `json:"download_time"`
}

// PlayerSummary aggregates a player's game history.
type PlayerSummary struct {
	Name           string        `json:"name"`
	Games          int           `json:"games"`
	FirstGame      time.Time     `json:"first_game"`
	LastGame       time.Time     `json:"last_game"`
	AvgLoadingTime time.Duration `json:"avg_loading_time"`
	AvgLeftPercent float64       `json:"avg_left_percent"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// DotASummary aggregates a player's DotA history.
type DotASummary struct {
	Name         string `json:"name"`
	Games        int    `json:"games"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Kills        int64  `json:"kills"`
	Deaths       int64  `json:"deaths"`
	Assists      int64  `json:"assists"`
	CreepKills   int64  `json:"creep_kills"`
	CreepDenies  int64  `json:"creep_denies"`
	NeutralKills int64  `json:"neutral_kills"`
	TowerKills   int64  `json:"tower_kills"`
	RaxKills     int64  `json:"rax_kills"`
	CourierKills int64  `json:"courier_kills"`
}

// NewStore opens the database at dbPath and migrates its schema.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			gamename TEXT NOT NULL DEFAULT '',
			admin TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			UNIQUE (server, name)
		);

		CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			UNIQUE (server, name)
		);

		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			server TEXT NOT NULL DEFAULT '',
			map TEXT NOT NULL,
			gamename TEXT NOT NULL,
			ownername TEXT NOT NULL DEFAULT '',
			creatorname TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL,
			private INTEGER NOT NULL DEFAULT 0,
			winner INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS gameplayers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gameid TEXT NOT NULL,
			name TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			spoofed INTEGER NOT NULL DEFAULT 0,
			realm TEXT NOT NULL DEFAULT '',
			reserved INTEGER NOT NULL DEFAULT 0,
			loadingtime INTEGER NOT NULL DEFAULT 0,
			lefttime INTEGER NOT NULL DEFAULT 0,
			leftreason TEXT NOT NULL DEFAULT '',
			team INTEGER NOT NULL,
			colour INTEGER NOT NULL,
			FOREIGN KEY (gameid) REFERENCES games(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS dotagames (
			gameid TEXT PRIMARY KEY,
			winner INTEGER NOT NULL,
			min INTEGER NOT NULL,
			sec INTEGER NOT NULL,
			FOREIGN KEY (gameid) REFERENCES games(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS dotaplayers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gameid TEXT NOT NULL,
			colour INTEGER NOT NULL,
			newcolour INTEGER NOT NULL,
			hero TEXT NOT NULL DEFAULT '',
			kills INTEGER NOT NULL DEFAULT 0,
			deaths INTEGER NOT NULL DEFAULT 0,
			assists INTEGER NOT NULL DEFAULT 0,
			creepkills INTEGER NOT NULL DEFAULT 0,
			creepdenies INTEGER NOT NULL DEFAULT 0,
			neutralkills INTEGER NOT NULL DEFAULT 0,
			towerkills INTEGER NOT NULL DEFAULT 0,
			raxkills INTEGER NOT NULL DEFAULT 0,
			courierkills INTEGER NOT NULL DEFAULT 0,
			gold INTEGER NOT NULL DEFAULT 0,
			items TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (gameid) REFERENCES games(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS downloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			map TEXT NOT NULL,
			mapsize INTEGER NOT NULL,
			name TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			spoofed INTEGER NOT NULL DEFAULT 0,
			realm TEXT NOT NULL DEFAULT '',
			downloadtime INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bans_name ON bans(name);
		CREATE INDEX IF NOT EXISTS idx_gameplayers_name ON gameplayers(name);
		CREATE INDEX IF NOT EXISTS idx_gameplayers_gameid ON gameplayers(gameid);
		CREATE INDEX IF NOT EXISTS idx_dotaplayers_gameid ON dotaplayers(gameid);
		CREATE INDEX IF NOT EXISTS idx_games_created ON games(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Debug().Msg("database schema migrated")
	return nil
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func timeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// AddBan stores a ban, replacing an existing ban of the same name on the
// same realm.
func (s *Store) AddBan(b Ban) error {
	if b.Name == "" {
		return errors.New("ban needs a name")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO bans (server, name, ip, gamename, admin, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server, name) DO UPDATE SET
			ip = excluded.ip, gamename = excluded.gamename, admin = excluded.admin,
			reason = excluded.reason, created_at = excluded.created_at, expires_at = excluded.expires_at
	`, lower(b.Server), lower(b.Name), b.IP, b.GameName, lower(b.Admin), b.Reason,
		timeUnix(b.CreatedAt), timeUnix(b.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to add ban: %w", err)
	}
	log.Info().Str("server", b.Server).Str("name", b.Name).Str("admin", b.Admin).Msg("ban added")
	return nil
}

const banColumns = "id, server, name, ip, gamename, admin, reason, created_at, expires_at"

func scanBan(scan func(dest ...interface{}) error) (Ban, error) {
	var b Ban
	var created, expires int64
	err := scan(&b.ID, &b.Server, &b.Name, &b.IP, &b.GameName, &b.Admin, &b.Reason, &created, &expires)
	b.CreatedAt = unixTime(created)
	b.ExpiresAt = unixTime(expires)
	return b, err
}

// CheckBan returns the active ban of name on server, or ErrNotFound.
func (s *Store) CheckBan(server, name string, now time.Time) (*Ban, error) {
	row := s.db.QueryRow(`SELECT `+banColumns+` FROM bans
		WHERE server = ? AND name = ? AND (expires_at = 0 OR expires_at > ?)`,
		lower(server), lower(name), now.Unix())
	b, err := scanBan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ban lookup failed: %w", err)
	}
	return &b, nil
}

// RemoveBan deletes the ban of name on server.
func (s *Store) RemoveBan(server, name string) error {
	res, err := s.db.Exec("DELETE FROM bans WHERE server = ? AND name = ?", lower(server), lower(name))
	if err != nil {
		return fmt.Errorf("failed to remove ban: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Bans lists the bans of server, or of every realm when server is "*".
func (s *Store) Bans(server string) ([]Ban, error) {
	query := `SELECT ` + banColumns + ` FROM bans`
	var args []interface{}
	if server != "*" {
		query += ` WHERE server = ?`
		args = append(args, lower(server))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		b, err := scanBan(rows.Scan)
		if err != nil {
			continue
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// PruneExpiredBans deletes bans that expired before now.
func (s *Store) PruneExpiredBans(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM bans WHERE expires_at != 0 AND expires_at <= ?", now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddAdmin grants name admin rights on server.
func (s *Store) AddAdmin(server, name string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO admins (server, name) VALUES (?, ?)", lower(server), lower(name))
	return err
}

// RemoveAdmin revokes admin rights.
func (s *Store) RemoveAdmin(server, name string) error {
	res, err := s.db.Exec("DELETE FROM admins WHERE server = ? AND name = ?", lower(server), lower(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAdmin reports whether name is an admin on server.
func (s *Store) IsAdmin(server, name string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM admins WHERE server = ? AND name = ?",
		lower(server), lower(name)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("admin check failed: %w", err)
	}
	return count > 0, nil
}

// Admins lists the admins of server.
func (s *Store) Admins(server string) ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM admins WHERE server = ? ORDER BY name", lower(server))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err == nil {
			names = append(names, n)
		}
	}
	return names, rows.Err()
}

// SaveGame stores a finished game with its players and, for DotA games,
// its stats. It returns the game id.
func (s *Store) SaveGame(g GameRecord, players []GamePlayerRecord, dota *DotAGameRecord) (string, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	err := s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO games (id, server, map, gamename, ownername, creatorname, duration, private, winner, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, lower(g.Server), g.Map, g.GameName, lower(g.OwnerName), lower(g.CreatorName),
			int64(g.Duration/time.Second), boolInt(g.Private), g.Winner, g.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert game: %w", err)
		}

		for _, p := range players {
			_, err := tx.Exec(`
				INSERT INTO gameplayers (gameid, name, ip, spoofed, realm, reserved, loadingtime, lefttime, leftreason, team, colour)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				g.ID, lower(p.Name), p.IP, boolInt(p.Spoofed), lower(p.Realm), boolInt(p.Reserved),
				p.LoadingTime.Milliseconds(), int64(p.Left/time.Second), p.LeftReason, p.Team, p.Colour)
			if err != nil {
				return fmt.Errorf("failed to insert game player %s: %w", p.Name, err)
			}
		}

		if dota == nil {
			return nil
		}
		if _, err := tx.Exec("INSERT INTO dotagames (gameid, winner, min, sec) VALUES (?, ?, ?, ?)",
			g.ID, dota.Winner, dota.Minutes, dota.Seconds); err != nil {
			return fmt.Errorf("failed to insert dota game: %w", err)
		}
		for _, p := range dota.Players {
			_, err := tx.Exec(`
				INSERT INTO dotaplayers (gameid, colour, newcolour, hero, kills, deaths, assists, creepkills,
					creepdenies, neutralkills, towerkills, raxkills, courierkills, gold, items)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				g.ID, p.Colour, p.NewColour, p.Hero, p.Kills, p.Deaths, p.Assists, p.CreepKills,
				p.CreepDenies, p.NeutralKills, p.TowerKills, p.RaxKills, p.CourierKills, p.Gold,
				strings.Join(p.Items[:], ","))
			if err != nil {
				return fmt.Errorf("failed to insert dota player %d: %w", p.Colour, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("game_id", g.ID).Str("game", g.GameName).Int("players", len(players)).Msg("game saved")
	return g.ID, nil
}

// RecentGames returns the newest games first.
func (s *Store) RecentGames(limit int) ([]GameRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, server, map, gamename, ownername, creatorname, duration, private, winner, created_at
		FROM games ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		var g GameRecord
		var duration, created int64
		var private int
		if err := rows.Scan(&g.ID, &g.Server, &g.Map, &g.GameName, &g.OwnerName, &g.CreatorName,
			&duration, &private, &g.Winner, &created); err != nil {
			continue
		}
		g.Duration = time.Duration(duration) * time.Second
		g.Private = private != 0
		g.CreatedAt = unixTime(created)
		games = append(games, g)
	}
	return games, rows.Err()
}

// PruneGames deletes games created before cutoff together with their
// players and stats.
func (s *Store) PruneGames(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM games WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PlayerSummary aggregates the games of name. ErrNotFound when the player
// never finished a game here.
func (s *Store) PlayerSummary(name string) (*PlayerSummary, error) {
	var ps PlayerSummary
	var first, last, loading, total sql.NullInt64
	var leftPct sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*), MIN(g.created_at), MAX(g.created_at), AVG(gp.loadingtime),
			AVG(CASE WHEN g.duration > 0 THEN 100.0 * gp.lefttime / g.duration ELSE 100.0 END),
			SUM(g.duration)
		FROM gameplayers gp JOIN games g ON g.id = gp.gameid
		WHERE gp.name = ?`, lower(name)).Scan(&ps.Games, &first, &last, &loading, &leftPct, &total)
	if err != nil {
		return nil, fmt.Errorf("player summary failed: %w", err)
	}
	if ps.Games == 0 {
		return nil, ErrNotFound
	}
	ps.Name = lower(name)
	ps.FirstGame = unixTime(first.Int64)
	ps.LastGame = unixTime(last.Int64)
	ps.AvgLoadingTime = time.Duration(loading.Int64) * time.Millisecond
	ps.AvgLeftPercent = leftPct.Float64
	ps.TotalDuration = time.Duration(total.Int64) * time.Second
	return &ps, nil
}

// DotASummary aggregates the DotA games of name. A player's colour links
// their game record to the map's stats; wins count games where their side
// (colours 1-5 sentinel, 7-11 scourge) matches the winner.
func (s *Store) DotASummary(name string) (*DotASummary, error) {
	ds := DotASummary{Name: lower(name)}
	var kills, deaths, assists, ck, cd, nk, tk, rk, cok sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN (dg.winner = 1 AND dp.newcolour BETWEEN 1 AND 5) OR (dg.winner = 2 AND dp.newcolour BETWEEN 7 AND 11) THEN 1 ELSE 0 END),
			SUM(CASE WHEN (dg.winner = 2 AND dp.newcolour BETWEEN 1 AND 5) OR (dg.winner = 1 AND dp.newcolour BETWEEN 7 AND 11) THEN 1 ELSE 0 END),
			SUM(dp.kills), SUM(dp.deaths), SUM(dp.assists), SUM(dp.creepkills), SUM(dp.creepdenies),
			SUM(dp.neutralkills), SUM(dp.towerkills), SUM(dp.raxkills), SUM(dp.courierkills)
		FROM gameplayers gp
		JOIN dotaplayers dp ON dp.gameid = gp.gameid AND dp.colour = gp.colour
		JOIN dotagames dg ON dg.gameid = gp.gameid
		WHERE gp.name = ?`, lower(name)).Scan(&ds.Games, nullInt(&ds.Wins), nullInt(&ds.Losses),
		&kills, &deaths, &assists, &ck, &cd, &nk, &tk, &rk, &cok)
	if err != nil {
		return nil, fmt.Errorf("dota summary failed: %w", err)
	}
	if ds.Games == 0 {
		return nil, ErrNotFound
	}
	ds.Kills, ds.Deaths, ds.Assists = kills.Int64, deaths.Int64, assists.Int64
	ds.CreepKills, ds.CreepDenies, ds.NeutralKills = ck.Int64, cd.Int64, nk.Int64
	ds.TowerKills, ds.RaxKills, ds.CourierKills = tk.Int64, rk.Int64, cok.Int64
	return &ds, nil
}

// nullIntScanner scans a nullable integer into an int, NULL meaning 0.
type nullIntScanner struct{ dst *int }

func nullInt(dst *int) *nullIntScanner { return &nullIntScanner{dst: dst} }

func (n *nullIntScanner) Scan(src interface{}) error {
	var v sql.NullInt64
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.dst = int(v.Int64)
	return nil
}

// LogDownload records a completed map download.
func (s *Store) LogDownload(d DownloadRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO downloads (map, mapsize, name, ip, spoofed, realm, downloadtime, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Map, d.MapSize, lower(d.Name), d.IP, boolInt(d.Spoofed), lower(d.Realm),
		d.DownloadTime.Milliseconds(), time.Now().Unix())
	return err
}

// DownloadCount returns the number of logged downloads.
func (s *Store) DownloadCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM downloads").Scan(&n)
	return n, err
}
