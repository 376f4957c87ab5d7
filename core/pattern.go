package core

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// PatternSize is the number of one-degree entries in each gain table.
	PatternSize = 360

	// DipoleGainDBi is the peak gain of a half-wave dipole.
	DipoleGainDBi = 2.15

	// NullGainDB stands in for log10(0) at the nulls of a pattern.
	NullGainDB = -200.0
)

// ErrFormat is matched by every *FormatError.
var ErrFormat = errors.New("malformed radiation pattern")

// FormatError reports a malformed or incomplete pattern file.
type FormatError struct {
	Source string
	Line   int // 0 when the problem is not tied to one line
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("pattern %q: line %d: %s", e.Source, e.Line, e.Msg)
	}
	return fmt.Sprintf("pattern %q: %s", e.Source, e.Msg)
}

// Is makes errors.Is(err, ErrFormat) succeed.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// RadiationPattern is an immutable antenna gain table in dBi. Total gain
// at horizontal angle h and vertical angle v is Azimuth(h) + Elevation(v).
type RadiationPattern struct {
	name      string
	azimuth   [PatternSize]float64
	elevation [PatternSize]float64
	digest    uint64
}

// NewRadiationPattern builds a pattern from two 360-entry tables.
func NewRadiationPattern(name string, azimuth, elevation []float64) (*RadiationPattern, error) {
	if len(azimuth) != PatternSize || len(elevation) != PatternSize {
		return nil, &FormatError{
			Source: name,
			Msg:    fmt.Sprintf("tables need %d entries, got %d azimuth and %d elevation", PatternSize, len(azimuth), len(elevation)),
		}
	}
	p := &RadiationPattern{name: name}
	for i := 0; i < PatternSize; i++ {
		if !isFinite(azimuth[i]) || !isFinite(elevation[i]) {
			return nil, &FormatError{Source: name, Msg: fmt.Sprintf("non-finite gain at %d°", i)}
		}
		p.azimuth[i] = azimuth[i]
		p.elevation[i] = elevation[i]
	}
	p.digest = p.computeDigest()
	return p, nil
}

var defaultPattern = sync.OnceValue(func() *RadiationPattern {
	p := &RadiationPattern{name: "half-wave dipole"}
	for i := 0; i < PatternSize; i++ {
		c := math.Cos(float64(i) * math.Pi / 180)
		p.azimuth[i] = dipoleGain(c * c)
	}
	p.digest = p.computeDigest()
	return p
})

// DefaultPattern returns the process-wide half-wave dipole pattern. The
// value is shared and must be treated as read-only.
func DefaultPattern() *RadiationPattern {
	return defaultPattern()
}

func dipoleGain(cosSq float64) float64 {
	g := 10*math.Log10(cosSq) + DipoleGainDBi
	if math.IsNaN(g) || g < NullGainDB {
		return NullGainDB
	}
	return g
}

// Name returns the label the pattern was built with.
func (p *RadiationPattern) Name() string { return p.name }

// Azimuth returns the horizontal gain component at deg (any integer, wrapped).
func (p *RadiationPattern) Azimuth(deg int) float64 { return p.azimuth[wrapDegree(deg)] }

// Elevation returns the vertical gain component at deg (any integer, wrapped).
func (p *RadiationPattern) Elevation(deg int) float64 { return p.elevation[wrapDegree(deg)] }

// Gain returns the total gain at horizontal angle h and vertical angle v.
func (p *RadiationPattern) Gain(h, v int) float64 {
	return p.azimuth[wrapDegree(h)] + p.elevation[wrapDegree(v)]
}

// Digest identifies the table contents; equal tables share a digest
// regardless of name.
func (p *RadiationPattern) Digest() uint64 { return p.digest }

func (p *RadiationPattern) computeDigest() uint64 {
	buf := make([]byte, 0, 2*PatternSize*8)
	for _, v := range p.azimuth {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	for _, v := range p.elevation {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return xxhash.Sum64(buf)
}

const (
	planeHorizontal = iota
	planeVertical
	planeNone = -1
)

var planeNames = [2]string{"HORIZONTAL", "VERTICAL"}

// ParsePattern reads a vendor pattern file:
//
//	GAIN <float> [dBi|dBd]
//	HORIZONTAL 360
//	<deg> <attenuation>   (360 lines)
//	VERTICAL 360
//	<deg> <attenuation>   (360 lines)
//
// Attenuation values are negated and half of GAIN is added to each plane.
// Unknown keyword lines (NAME, MAKE, FREQUENCY, ...) are ignored. A file
// with only one of the two sections gets a flat table for the other.
func ParsePattern(r io.Reader, name string) (*RadiationPattern, error) {
	var (
		gainDBi float64
		current = planeNone
		opened  [2]bool
		filled  [2]int
		values  [2][PatternSize]float64
		lineNo  int
	)
	fail := func(format string, args ...any) error {
		return &FormatError{Source: name, Line: lineNo, Msg: fmt.Sprintf(format, args...)}
	}
	closeSection := func() error {
		if current != planeNone && filled[current] < PatternSize {
			return fail("%s section has %d values, want %d", planeNames[current], filled[current], PatternSize)
		}
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		keyword := strings.ToUpper(fields[0])

		switch {
		case strings.HasPrefix(keyword, "GAIN"):
			if len(fields) < 2 {
				return nil, fail("GAIN without a value")
			}
			g, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || !isFinite(g) {
				return nil, fail("invalid GAIN value %q", fields[1])
			}
			if len(fields) > 2 && strings.EqualFold(fields[2], "dBd") {
				g += DipoleGainDBi
			}
			gainDBi = g

		case strings.HasPrefix(keyword, planeNames[planeHorizontal]), strings.HasPrefix(keyword, planeNames[planeVertical]):
			if err := closeSection(); err != nil {
				return nil, err
			}
			plane := planeHorizontal
			if strings.HasPrefix(keyword, planeNames[planeVertical]) {
				plane = planeVertical
			}
			if opened[plane] {
				return nil, fail("duplicate %s section", planeNames[plane])
			}
			if len(fields) > 1 {
				n, err := strconv.Atoi(fields[1])
				if err != nil || n != PatternSize {
					return nil, fail("%s section declares %q values, want %d", planeNames[plane], fields[1], PatternSize)
				}
			}
			opened[plane] = true
			current = plane

		default:
			if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
				// Header keyword we do not use.
				if current != planeNone && filled[current] < PatternSize {
					return nil, fail("unexpected %q inside %s section", fields[0], planeNames[current])
				}
				continue
			}
			if current == planeNone {
				return nil, fail("data line before any HORIZONTAL or VERTICAL section")
			}
			if filled[current] == PatternSize {
				return nil, fail("%s section has more than %d values", planeNames[current], PatternSize)
			}
			if len(fields) < 2 {
				return nil, fail("data line has no attenuation value")
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || !isFinite(v) {
				return nil, fail("invalid attenuation %q", fields[1])
			}
			values[current][filled[current]] = v
			filled[current]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pattern %q: %w", name, err)
	}
	lineNo = 0
	if err := closeSection(); err != nil {
		return nil, err
	}
	if !opened[planeHorizontal] && !opened[planeVertical] {
		return nil, fail("no HORIZONTAL or VERTICAL section")
	}

	half := gainDBi / 2
	tables := [2][]float64{make([]float64, PatternSize), make([]float64, PatternSize)}
	for plane := range tables {
		for i := range tables[plane] {
			tables[plane][i] = half
			if opened[plane] {
				tables[plane][i] -= values[plane][i]
			}
		}
	}
	return NewRadiationPattern(name, tables[planeHorizontal], tables[planeVertical])
}

// LoadPatternFile parses the pattern file at name inside fsys. The pattern
// is labelled with the file's base name.
func LoadPatternFile(fsys fs.FS, name string) (*RadiationPattern, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open pattern: %w", err)
	}
	defer f.Close()
	return ParsePattern(f, path.Base(name))
}

func wrapDegree(deg int) int {
	deg %= PatternSize
	if deg < 0 {
		deg += PatternSize
	}
	return deg
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
