package model

// DefaultPatternID names the built-in half-wave dipole pattern.
const DefaultPatternID = "default"

// Transmitter is a fixed base station (BTS).
type Transmitter struct {
	ID   string
	Name string

	Position Position

	// HeightM is the antenna height above ground.
	HeightM float64
	// PowerDBm is the transmit power.
	PowerDBm float64
	// OrientationDeg rotates the pattern's azimuth axis (boresight).
	OrientationDeg float64

	// PatternID references a radiation pattern by name. Empty means
	// DefaultPatternID.
	PatternID string
}

// Pattern returns the effective pattern identifier.
func (t *Transmitter) Pattern() string {
	if t == nil || t.PatternID == "" {
		return DefaultPatternID
	}
	return t.PatternID
}

// Clone returns a copy safe to hand to other goroutines.
func (t *Transmitter) Clone() *Transmitter {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
