// Package color provides the two seat colors of a session
package color

// Color represent a seat color. White is seat A and moves first.
type Color string

// Possible seat colors in a session
const (
	White Color = "w"
	Black Color = "b"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Valid reports whether c is one of the two seat colors.
func (c Color) Valid() bool {
	return c == White || c == Black
}

// Name returns the human readable name used in end-of-session messages.
func (c Color) Name() string {
	if c == White {
		return "White"
	}

	return "Black"
}
