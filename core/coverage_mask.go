package core

// CoverageMask is a cropped boolean coverage grid centered on its
// transmitter. Cells are addressed by offsets from the transmitter, so the
// mask is independent of where the transmitter stands.
type CoverageMask struct {
	halfW, halfH int
	cells        []bool // row-major, Height() rows of Width() cells
}

func newCoverageMask(halfW, halfH int) *CoverageMask {
	return &CoverageMask{
		halfW: halfW,
		halfH: halfH,
		cells: make([]bool, (2*halfW+1)*(2*halfH+1)),
	}
}

// emptyCoverageMask is returned when nothing is covered.
func emptyCoverageMask() *CoverageMask {
	return newCoverageMask(1, 1)
}

// Width is the number of columns; always odd.
func (m *CoverageMask) Width() int { return 2*m.halfW + 1 }

// Height is the number of rows; always odd.
func (m *CoverageMask) Height() int { return 2*m.halfH + 1 }

// HalfWidth is the largest |dx| the mask can report as covered.
func (m *CoverageMask) HalfWidth() int { return m.halfW }

// HalfHeight is the largest |dy| the mask can report as covered.
func (m *CoverageMask) HalfHeight() int { return m.halfH }

// At reports whether the cell at offset (dx, dy) from the transmitter is
// covered. Offsets beyond the half extents are outside coverage.
func (m *CoverageMask) At(dx, dy int) bool {
	if m == nil || abs(dx) > m.halfW || abs(dy) > m.halfH {
		return false
	}
	return m.cells[(dy+m.halfH)*m.Width()+dx+m.halfW]
}

func (m *CoverageMask) set(dx, dy int) {
	m.cells[(dy+m.halfH)*m.Width()+dx+m.halfW] = true
}

// CoveredCells counts the covered cells.
func (m *CoverageMask) CoveredCells() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, c := range m.cells {
		if c {
			n++
		}
	}
	return n
}

// Empty reports whether no cell is covered.
func (m *CoverageMask) Empty() bool { return m.CoveredCells() == 0 }

// equal reports whether both masks have the same shape and cells.
func (m *CoverageMask) equal(other *CoverageMask) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.halfW != other.halfW || m.halfH != other.halfH {
		return false
	}
	for i, c := range m.cells {
		if other.cells[i] != c {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
