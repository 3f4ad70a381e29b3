package game

import (
	"fmt"
	"strings"

	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/protocol"
)

// voteKickThreshold is the number of yes votes needed to kick: the
// configured percentage of the other humans, rounded up.
func (g *Game) voteKickThreshold() int {
	others := g.numHumanPlayers() - 1
	if others < 1 {
		return 1
	}
	return (others*g.cfg.VoteKickPercentage + 99) / 100
}

// votesNeeded is the threshold taken when the running votekick started.
// Players leaving afterwards do not lower it.
func (g *Game) votesNeeded() int {
	if g.kickVoteThreshold < 1 {
		return 1
	}
	return g.kickVoteThreshold
}

func (g *Game) kickVotes() int {
	votes := 0
	for _, p := range g.players {
		if p.kickVote && !p.deleteMe {
			votes++
		}
	}
	return votes
}

func (g *Game) cmdVoteKick(inv *invocation) {
	p := inv.player
	if p == nil || inv.payload == "" || !g.cfg.VoteKickAllowed {
		return
	}
	if g.kickVotePlayer != "" {
		g.sendChat(p, "Unable to start votekick. Another votekick is in progress")
		return
	}
	if g.numHumanPlayers() <= 2 {
		g.sendChat(p, "Unable to start votekick. There aren't enough players in the game for a votekick")
		return
	}
	target := g.findPlayer(inv, inv.payload)
	if target == nil {
		return
	}
	if target.reserved {
		g.sendChat(p, fmt.Sprintf("Unable to votekick player [%s]. You cannot votekick a player with reserved status", target.name))
		return
	}

	g.kickVotePlayer = target.name
	g.kickVoteStarted = g.tick
	g.kickVoteThreshold = g.voteKickThreshold()
	for _, o := range g.players {
		o.kickVote = false
	}
	p.kickVote = true
	g.logger.Info().Str("initiator", p.name).Str("target", target.name).Msg("votekick started")
	g.sendAllChat(fmt.Sprintf("Player [%s] started a votekick against player [%s]", p.name, target.name))
	g.sendAllChat(fmt.Sprintf("Type %syes to vote. %d votes are needed", g.trigger, g.votesNeeded()))
	g.checkKickVote()
}

func (g *Game) cmdYes(inv *invocation) {
	p := inv.player
	if p == nil || g.kickVotePlayer == "" || p.kickVote || strings.EqualFold(p.name, g.kickVotePlayer) {
		return
	}
	p.kickVote = true
	g.checkKickVote()
}

// checkKickVote kicks the target once enough votes are in.
func (g *Game) checkKickVote() {
	target := g.playerFromName(g.kickVotePlayer)
	if target == nil {
		g.kickVotePlayer = ""
		return
	}
	votes, needed := g.kickVotes(), g.votesNeeded()
	if votes < needed {
		g.sendAllChat(fmt.Sprintf("Votekick against player [%s]: %d of %d votes", target.name, votes, needed))
		return
	}

	reason := "was kicked by vote"
	if g.gameLoading || g.gameLoaded {
		target.setLeft(reason, protocol.LeaveLost, g.tick)
	} else {
		target.setLeft(reason, protocol.LeaveLobby, g.tick)
		g.send(target, protocol.HostKickPlayer(protocol.LeaveLobby))
		g.openSlotOf(target)
	}
	g.kickVotePlayer = ""
	for _, o := range g.players {
		o.kickVote = false
	}
	target.logger.Info().Int("votes", votes).Msg("player kicked by vote")
	g.sendAllChat(fmt.Sprintf("A votekick against player [%s] has passed with %d votes", target.name, votes))
	g.emit(events.EventPlayerKicked, g.playerPayload(target, reason, target.leftCode))
}
