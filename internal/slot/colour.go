package slot

import (
	"errors"
	"fmt"
)

// ErrInvalidColour is returned for colour values outside 0..11.
var ErrInvalidColour = errors.New("invalid player colour")

// Colour is a player colour index. Observers use ObserverTeam and are never a
// valid Colour.
type Colour uint8

// NumColours is the number of player colours.
const NumColours = 12

var colourNames = [NumColours]string{
	"red", "blue", "teal", "purple", "yellow", "orange",
	"green", "pink", "gray", "light blue", "dark green", "brown",
}

// ParseColour validates an untrusted colour value.
func ParseColour(v uint32) (Colour, error) {
	if v >= NumColours {
		return 0, fmt.Errorf("%w: %d", ErrInvalidColour, v)
	}
	return Colour(v), nil
}

// Valid reports whether c is a player colour.
func (c Colour) Valid() bool { return c < NumColours }

func (c Colour) String() string {
	if !c.Valid() {
		return fmt.Sprintf("colour(%d)", uint8(c))
	}
	return colourNames[c]
}

// ColourFromName resolves a colour by its English name.
func ColourFromName(name string) (Colour, bool) {
	for i, n := range colourNames {
		if n == name {
			return Colour(i), true
		}
	}
	return 0, false
}
