package model

// Position is a location on the simulation canvas, in grid cells.
type Position struct {
	X int
	Y int
}

// Offset returns the displacement from p to other.
func (p Position) Offset(other Position) (dx, dy int) {
	return other.X - p.X, other.Y - p.Y
}
