package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// ObstacleField is a canvas-aligned grid of blocked cells. It is a
// snapshot: build a new one for every connectivity run.
type ObstacleField struct {
	width, height int
	cells         []bool
}

// BuildObstacleField rasterises obstacles onto a width x height grid. A cell
// is blocked when its centre lies within an obstacle's radius; the field is
// the plain union of all discs. Parts of discs outside the canvas are dropped.
func BuildObstacleField(obstacles []model.Obstacle, width, height int) *ObstacleField {
	width, height = max(width, 0), max(height, 0)
	f := &ObstacleField{
		width:  width,
		height: height,
		cells:  make([]bool, width*height),
	}
	for _, o := range obstacles {
		f.addDisc(o)
	}
	return f
}

func (f *ObstacleField) addDisc(o model.Obstacle) {
	if !(o.Radius >= 0) || math.IsInf(o.Radius, 0) {
		return
	}
	reach := int(math.Floor(o.Radius))
	rSq := o.Radius * o.Radius
	for ly := -reach; ly <= reach; ly++ {
		y := o.Position.Y + ly
		if y < 0 || y >= f.height {
			continue
		}
		for lx := -reach; lx <= reach; lx++ {
			x := o.Position.X + lx
			if x < 0 || x >= f.width {
				continue
			}
			if r2.Norm2(r2.Vec{X: float64(lx), Y: float64(ly)}) <= rSq {
				f.cells[y*f.width+x] = true
			}
		}
	}
}

// Width returns the canvas width in cells.
func (f *ObstacleField) Width() int { return f.width }

// Height returns the canvas height in cells.
func (f *ObstacleField) Height() int { return f.height }

// Blocked reports whether (x, y) is blocked. Cells off the canvas are clear.
func (f *ObstacleField) Blocked(x, y int) bool {
	if f == nil || x < 0 || y < 0 || x >= f.width || y >= f.height {
		return false
	}
	return f.cells[y*f.width+x]
}

// BlockedCells counts blocked cells.
func (f *ObstacleField) BlockedCells() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, c := range f.cells {
		if c {
			n++
		}
	}
	return n
}
