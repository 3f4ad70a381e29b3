package game

import (
	"fmt"
	"time"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/db"
	"github.com/warhost-project/warhost/internal/protocol"
)

// maxPartsInFlight bounds the map parts sent ahead of a player's last ack.
const maxPartsInFlight = 100

func (g *Game) downloadsAllowed(p *Player) bool {
	switch g.download.Allow {
	case config.DownloadAuto:
		return true
	case config.DownloadPermission:
		return p.downloadAllowed
	}
	return false
}

// eventPlayerMapSize reacts to a client's map state: it starts or resumes
// a transfer, completes one, or kicks players who cannot get the map.
func (g *Game) eventPlayerMapSize(p *Player, m *protocol.MapSize, now time.Time) {
	if g.gameLoading || g.gameLoaded {
		return
	}
	size := g.m.Size()

	if m.SizeFlag != 1 || m.MapSize != size {
		switch {
		case !g.downloadsAllowed(p):
			reason := "doesn't have the map and map downloads are disabled"
			if g.download.Allow == config.DownloadPermission {
				reason = "doesn't have the map and has not been allowed to download it"
			}
			g.kickForMap(p, reason)
			return
		case !g.m.HasData():
			g.kickForMap(p, "doesn't have the map and there is no local copy of the map to send")
			return
		case !p.downloadStarted && m.SizeFlag == 1:
			p.logger.Info().Msg("map download started")
			g.send(p, protocol.StartDownload(g.hostPID()))
			p.downloadStarted = true
			p.startedDownloading = now
		default:
			p.lastMapPartAcked = m.MapSize
		}
	} else if p.downloadStarted && !p.downloadFinished {
		p.downloadFinished = true
		p.finishedDownloading = now
		elapsed := now.Sub(p.startedDownloading)
		rate := float64(size) / 1024
		if secs := elapsed.Seconds(); secs > 0 {
			rate /= secs
		}
		g.sendAllChat(fmt.Sprintf("Player [%s] downloaded the map in %.1f seconds (%.1f KB/sec)", p.name, elapsed.Seconds(), rate))
		p.logger.Info().Dur("elapsed", elapsed).Msg("map download finished")
		if g.ctx.Store != nil {
			err := g.ctx.Store.LogDownload(db.DownloadRecord{
				Map:          g.m.Path(),
				MapSize:      size,
				Name:         p.name,
				IP:           p.externalIP.String(),
				Spoofed:      p.spoofed,
				Realm:        p.spoofedRealm,
				DownloadTime: elapsed,
			})
			if err != nil {
				p.logger.Error().Err(err).Msg("failed to log download")
			}
		}
	}

	var status byte = 100
	if size > 0 {
		if pct := uint64(m.MapSize) * 100 / uint64(size); pct < 100 {
			status = byte(pct)
		}
	}
	if sid := g.sidFromPID(p.pid); sid >= 0 && g.slots[sid].DownloadStatus != status {
		g.slots[sid].DownloadStatus = status
		g.slotInfoChanged = true
	}
}

func (g *Game) kickForMap(p *Player, reason string) {
	p.logger.Info().Str("reason", reason).Msg("player kicked")
	p.setLeft(reason, protocol.LeaveLobby, g.tick)
	g.send(p, protocol.HostKickPlayer(protocol.LeaveLobby))
	g.openSlotOf(p)
}

// updateDownloads flushes batched slot changes every second and feeds map
// parts to downloaders every 100ms within the downloader and speed caps.
func (g *Game) updateDownloads(now time.Time) {
	if now.Sub(g.lastDownloadReset) >= downloadResetInterval {
		if g.slotInfoChanged {
			g.sendAllSlotInfo()
		}
		g.downloadCounter = 0
		g.lastDownloadReset = now
	}
	if now.Sub(g.lastDownloadTick) < downloadInterval {
		return
	}
	g.lastDownloadTick = now

	data, err := g.m.Data()
	if err != nil {
		return
	}
	size := uint32(len(data))
	maxSpeed := uint32(g.download.MaxSpeed) * 1024
	downloaders := 0
	for _, p := range g.players {
		if p.deleteMe || !p.downloadStarted || p.downloadFinished {
			continue
		}
		downloaders++
		if g.download.MaxDownloaders > 0 && downloaders > g.download.MaxDownloaders {
			break
		}
		for p.lastMapPartSent < p.lastMapPartAcked+protocol.MapPartSize*maxPartsInFlight && p.lastMapPartSent < size {
			if maxSpeed > 0 && g.downloadCounter > maxSpeed {
				break
			}
			g.send(p, protocol.MapPart(p.pid, g.hostPID(), p.lastMapPartSent, data))
			p.lastMapPartSent += protocol.MapPartSize
			g.downloadCounter += protocol.MapPartSize
		}
	}
}
