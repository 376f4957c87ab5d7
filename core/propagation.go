package core

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// ErrInvalidConfig is returned by PropagationConfig.Validate.
var ErrInvalidConfig = errors.New("invalid propagation config")

const (
	DefaultFrequencyMHz    = 900.0
	DefaultSensitivityDBm  = -90.0
	DefaultReceiverHeightM = 1.5
	DefaultCellSize        = 1.0
	DefaultHalfExtent      = 256

	// MaxHalfExtent bounds the precomputed grid to (2*4096+1)^2 cells.
	MaxHalfExtent = 4096

	// friisConstantDB is the free-space path loss constant folded into the
	// coverage threshold together with the carrier frequency.
	friisConstantDB = 32.5

	// minPathTermSq floors distance²+Δh² so the path loss stays finite when
	// transmitter and receiver coincide.
	minPathTermSq = 1e-6
)

// PropagationConfig holds the deployment-wide radio constants.
// Zero fields are replaced by defaults in ApplyDefaults.
type PropagationConfig struct {
	FrequencyMHz    float64 `json:"frequency_mhz,omitempty" yaml:"frequency_mhz,omitempty"`
	SensitivityDBm  float64 `json:"sensitivity_dbm,omitempty" yaml:"sensitivity_dbm,omitempty"`
	ReceiverHeightM float64 `json:"receiver_height_m,omitempty" yaml:"receiver_height_m,omitempty"`
	// CellSize is world units per grid cell.
	CellSize float64 `json:"cell_size,omitempty" yaml:"cell_size,omitempty"`
	// HalfExtent is the working grid half-size in cells. It must exceed
	// the largest expected coverage radius or masks get clipped.
	HalfExtent int `json:"half_extent,omitempty" yaml:"half_extent,omitempty"`
}

// DefaultPropagationConfig returns a config with every field defaulted.
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{}.ApplyDefaults()
}

// ApplyDefaults fills zero fields.
func (c PropagationConfig) ApplyDefaults() PropagationConfig {
	if c.FrequencyMHz == 0 {
		c.FrequencyMHz = DefaultFrequencyMHz
	}
	if c.SensitivityDBm == 0 {
		c.SensitivityDBm = DefaultSensitivityDBm
	}
	if c.ReceiverHeightM == 0 {
		c.ReceiverHeightM = DefaultReceiverHeightM
	}
	if c.CellSize == 0 {
		c.CellSize = DefaultCellSize
	}
	if c.HalfExtent == 0 {
		c.HalfExtent = DefaultHalfExtent
	}
	return c
}

// Validate checks ranges after defaults have been applied.
func (c PropagationConfig) Validate() error {
	switch {
	case !isFinite(c.FrequencyMHz) || c.FrequencyMHz <= 0:
		return fmt.Errorf("%w: frequency %v MHz", ErrInvalidConfig, c.FrequencyMHz)
	case !isFinite(c.SensitivityDBm):
		return fmt.Errorf("%w: sensitivity %v dBm", ErrInvalidConfig, c.SensitivityDBm)
	case !isFinite(c.ReceiverHeightM) || c.ReceiverHeightM < 0:
		return fmt.Errorf("%w: receiver height %v", ErrInvalidConfig, c.ReceiverHeightM)
	case !isFinite(c.CellSize) || c.CellSize <= 0:
		return fmt.Errorf("%w: cell size %v", ErrInvalidConfig, c.CellSize)
	case c.HalfExtent < 1 || c.HalfExtent > MaxHalfExtent:
		return fmt.Errorf("%w: half extent %d outside [1, %d]", ErrInvalidConfig, c.HalfExtent, MaxHalfExtent)
	}
	return nil
}

// ThresholdDBm is the Friis comparison level: a cell is covered when the
// received-power term exceeds it.
func (c PropagationConfig) ThresholdDBm() float64 {
	return c.SensitivityDBm + friisConstantDB + 20*math.Log10(c.FrequencyMHz)
}

// centeredGrid holds per-cell geometry for the square of side 2*half+1
// around a transmitter, row-major with dy selecting the row. It depends only
// on the half extent and cell size, so propagators share it.
type centeredGrid struct {
	half    int
	distSq  []float64
	azimuth []int16 // degrees in [0, 360)
}

func newCenteredGrid(half int, cellSize float64) *centeredGrid {
	side := 2*half + 1
	g := &centeredGrid{
		half:    half,
		distSq:  make([]float64, side*side),
		azimuth: make([]int16, side*side),
	}
	for row := 0; row < side; row++ {
		dy := float64(row-half) * cellSize
		for col := 0; col < side; col++ {
			dx := float64(col-half) * cellSize
			k := row*side + col
			g.distSq[k] = dx*dx + dy*dy
			g.azimuth[k] = int16(wrapDegree(int(math.Round(degrees(math.Atan2(dx, dy))))))
		}
	}
	return g
}

// maxSharedGrids bounds the grids kept alive for reuse. A grid at the
// largest allowed half extent is several hundred MiB.
const maxSharedGrids = 4

type gridKey struct {
	half     int
	cellSize float64
}

type sharedGridEntry struct {
	once sync.Once
	grid *centeredGrid
}

var sharedGrids = struct {
	mu      sync.Mutex
	entries *simplelru.LRU[gridKey, *sharedGridEntry]
}{
	entries: mustGridLRU(maxSharedGrids),
}

func mustGridLRU(size int) *simplelru.LRU[gridKey, *sharedGridEntry] {
	l, err := simplelru.NewLRU[gridKey, *sharedGridEntry](size, nil)
	if err != nil {
		panic(err)
	}
	return l
}

// sharedGrid returns the grid for (half, cellSize), building it outside the
// registry lock on first use.
func sharedGrid(half int, cellSize float64) *centeredGrid {
	key := gridKey{half: half, cellSize: cellSize}
	sharedGrids.mu.Lock()
	entry, ok := sharedGrids.entries.Get(key)
	if !ok {
		entry = &sharedGridEntry{}
		sharedGrids.entries.Add(key, entry)
	}
	sharedGrids.mu.Unlock()

	entry.once.Do(func() {
		entry.grid = newCenteredGrid(half, cellSize)
	})
	return entry.grid
}

// Propagator computes coverage masks for one PropagationConfig. It is safe
// for concurrent use; the centered grid is fetched on first use and shared
// with every propagator of the same half extent and cell size.
type Propagator struct {
	cfg       PropagationConfig
	threshold float64

	once sync.Once
	grid *centeredGrid
}

// NewPropagator applies defaults to cfg and validates it.
func NewPropagator(cfg PropagationConfig) (*Propagator, error) {
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Propagator{cfg: cfg, threshold: cfg.ThresholdDBm()}, nil
}

// Config returns the effective configuration.
func (p *Propagator) Config() PropagationConfig { return p.cfg }

func (p *Propagator) centered() *centeredGrid {
	p.once.Do(func() {
		p.grid = sharedGrid(p.cfg.HalfExtent, p.cfg.CellSize)
	})
	return p.grid
}

// ComputeCoverage evaluates the received power of tx over the working grid
// and returns the cropped mask. A nil pattern means the default dipole.
// The result depends only on power, height, orientation, pattern and the
// config; position is irrelevant because masks are offset-addressed.
func (p *Propagator) ComputeCoverage(tx *model.Transmitter, pattern *RadiationPattern) *CoverageMask {
	if tx == nil {
		return emptyCoverageMask()
	}
	if pattern == nil {
		pattern = DefaultPattern()
	}
	g := p.centered()
	side := 2*g.half + 1

	dh := tx.HeightM - p.cfg.ReceiverHeightM
	dhSq := dh * dh
	orientation := int(math.Round(tx.OrientationDeg))

	covered := make([]bool, side*side)
	halfW, halfH := -1, -1
	for k := range covered {
		term := g.distSq[k] + dhSq
		if term < minPathTermSq {
			term = minPathTermSq
		}
		// atan2(0, 0) is 0 in Go, so the origin looks straight down.
		elevation := int(math.Round(degrees(math.Atan2(math.Sqrt(g.distSq[k]), dh))))
		pr := tx.PowerDBm - 10*math.Log10(term) +
			pattern.Azimuth(int(g.azimuth[k])+orientation) +
			pattern.Elevation(elevation)
		if pr <= p.threshold {
			continue
		}
		covered[k] = true
		dx, dy := abs(k%side-g.half), abs(k/side-g.half)
		halfW = max(halfW, dx)
		halfH = max(halfH, dy)
	}
	if halfW < 0 {
		return emptyCoverageMask()
	}

	mask := newCoverageMask(halfW, halfH)
	for k, c := range covered {
		if !c {
			continue
		}
		mask.set(k%side-g.half, k/side-g.half)
	}
	return mask
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
