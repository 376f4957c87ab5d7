package model

// Obstacle is a circular blocker on the canvas.
type Obstacle struct {
	ID       string
	Position Position
	Radius   float64 // grid cells
}

// Canvas describes the working area that obstacle fields are rasterised to.
type Canvas struct {
	Width  int
	Height int
}
