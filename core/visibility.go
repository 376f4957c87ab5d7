package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// IsCovered decides whether rx hears tx: the receiver's offset must fall on
// a covered mask cell and the straight line between them must not cross a
// blocked cell of field. A nil field means no obstacles. A receiver on top
// of the transmitter is always covered.
func IsCovered(tx *model.Transmitter, mask *CoverageMask, field *ObstacleField, rx *model.Receiver) bool {
	if tx == nil || rx == nil {
		return false
	}
	dx, dy := tx.Position.Offset(rx.Position)
	if dx == 0 && dy == 0 {
		return true
	}
	if !mask.At(dx, dy) {
		return false
	}
	if field == nil {
		return true
	}
	return lineOfSight(tx.Position, dx, dy, field)
}

// lineOfSight walks from origin to origin+(dx, dy) one cell at a time along
// the major axis, rounding the minor coordinate to the nearest cell. Both
// endpoints are tested. (dx, dy) must not be (0, 0).
func lineOfSight(origin model.Position, dx, dy int, field *ObstacleField) bool {
	start := r2.Vec{X: float64(origin.X), Y: float64(origin.Y)}
	steps := max(abs(dx), abs(dy))
	n := float64(steps)
	for i := 0; i <= steps; i++ {
		// Dividing the integer product keeps exact halves exact, so both
		// axis branches round the same way.
		p := r2.Add(start, r2.Vec{X: float64(i*dx) / n, Y: float64(i*dy) / n})
		if field.Blocked(int(math.Round(p.X)), int(math.Round(p.Y))) {
			return false
		}
	}
	return true
}
