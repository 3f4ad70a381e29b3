package game

import (
	"errors"
	"strings"

	"github.com/warhost-project/warhost/internal/slot"
)

// HCLChars is the alphabet a host command string may use.
const HCLChars = "abcdefghijklmnopqrstuvwxyz0123456789 -=,."

var (
	// ErrHCLTooLong is returned when the command has more characters than
	// there are occupied slots to carry them.
	ErrHCLTooLong = errors.New("hcl: command longer than the occupied slots")
	// ErrHCLChar is returned for a character outside HCLChars.
	ErrHCLChar = errors.New("hcl: invalid character")
)

// hclEncoding maps (handicap index + 6*character index) to the handicap
// value carrying it. Values a client can select are skipped so the encoded
// handicaps are never mistaken for real ones.
var hclEncoding = func() [256]byte {
	var m [256]byte
	j := byte(0)
	for i := range m {
		for j == 0 || j == 50 || j == 60 || j == 70 || j == 80 || j == 90 || j == 100 {
			j++
		}
		m[i] = j
		j++
	}
	return m
}()

// CheckHCL validates command for a table with occupied slots in use.
func CheckHCL(command string, occupied int) error {
	if len(command) > occupied {
		return ErrHCLTooLong
	}
	for i := 0; i < len(command); i++ {
		if strings.IndexByte(HCLChars, command[i]) < 0 {
			return ErrHCLChar
		}
	}
	return nil
}

// EncodeHCL hides command in the handicaps of the occupied slots, one
// character per slot in table order.
func EncodeHCL(slots []slot.Slot, command string) error {
	occupied := 0
	for _, s := range slots {
		if s.IsOccupied() {
			occupied++
		}
	}
	if err := CheckHCL(command, occupied); err != nil {
		return err
	}
	cur := 0
	for i := 0; i < len(command); i++ {
		for !slots[cur].IsOccupied() {
			cur++
		}
		h := (int(slots[cur].Handicap) - 50) / 10
		if h < 0 || h > 5 {
			h = 5
		}
		c := strings.IndexByte(HCLChars, command[i])
		slots[cur].Handicap = hclEncoding[h+c*6]
		cur++
	}
	return nil
}

// applyHCL encodes the game's command string into the slot table.
func (g *Game) applyHCL() {
	if g.hcl == "" {
		return
	}
	if err := EncodeHCL(g.slots, g.hcl); err != nil {
		g.logger.Warn().Err(err).Str("hcl", g.hcl).Msg("host command string not encoded")
		return
	}
	g.logger.Warn().Str("hcl", g.hcl).Msg("host command string encoded into handicaps, maps without HCL support will see altered handicaps")
	g.slotInfoChanged = true
}
