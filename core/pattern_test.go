package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"testing/fstest"
)

// patternFile renders a vendor pattern file with a constant attenuation per
// section. Empty section names are skipped.
func patternFile(header string, sections map[string]float64, count int) string {
	var b strings.Builder
	b.WriteString(header)
	for _, name := range []string{"HORIZONTAL", "VERTICAL"} {
		att, ok := sections[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s 360\n", name)
		for i := 0; i < count; i++ {
			fmt.Fprintf(&b, "%d %g\n", i, att)
		}
	}
	return b.String()
}

func TestDefaultPatternDipole(t *testing.T) {
	p := DefaultPattern()
	if p != DefaultPattern() {
		t.Fatalf("DefaultPattern should return a shared instance")
	}
	if got := p.Azimuth(0); math.Abs(got-DipoleGainDBi) > 1e-9 {
		t.Fatalf("Azimuth(0) = %v, want %v", got, DipoleGainDBi)
	}
	if got := p.Azimuth(180); math.Abs(got-DipoleGainDBi) > 1e-9 {
		t.Fatalf("Azimuth(180) = %v, want %v", got, DipoleGainDBi)
	}
	if got := p.Azimuth(90); got > -100 || math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("Azimuth(90) = %v, want a large finite null", got)
	}
	if got := p.Azimuth(90); got < NullGainDB {
		t.Fatalf("Azimuth(90) = %v, below NullGainDB", got)
	}
	want := 10*math.Log10(0.5) + DipoleGainDBi
	if got := p.Azimuth(45); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Azimuth(45) = %v, want %v", got, want)
	}
	for v := 0; v < PatternSize; v++ {
		if p.Elevation(v) != 0 {
			t.Fatalf("Elevation(%d) = %v, want 0", v, p.Elevation(v))
		}
	}
}

func TestPatternIndicesWrap(t *testing.T) {
	p := DefaultPattern()
	if p.Azimuth(-45) != p.Azimuth(315) || p.Azimuth(405) != p.Azimuth(45) {
		t.Fatalf("azimuth indices should wrap modulo 360")
	}
	if p.Gain(720, -360) != p.Azimuth(0)+p.Elevation(0) {
		t.Fatalf("Gain should wrap both indices")
	}
}

func TestParsePatternAllZeros(t *testing.T) {
	src := patternFile("NAME flat\nMAKE test\nGAIN 0 dBi\n", map[string]float64{"HORIZONTAL": 0, "VERTICAL": 0}, 360)
	p, err := ParsePattern(strings.NewReader(src), "flat.msi")
	if err != nil {
		t.Fatalf("ParsePattern error: %v", err)
	}
	for i := 0; i < PatternSize; i++ {
		if p.Azimuth(i) != 0 || p.Elevation(i) != 0 {
			t.Fatalf("entry %d = (%v, %v), want zeros", i, p.Azimuth(i), p.Elevation(i))
		}
	}
	if p.Name() != "flat.msi" {
		t.Fatalf("Name() = %q", p.Name())
	}
}

func TestParsePatternGainAndAttenuation(t *testing.T) {
	src := patternFile("GAIN 10\n", map[string]float64{"HORIZONTAL": 3, "VERTICAL": 1}, 360)
	p, err := ParsePattern(strings.NewReader(src), "sector")
	if err != nil {
		t.Fatalf("ParsePattern error: %v", err)
	}
	if got := p.Azimuth(17); got != 2 {
		t.Fatalf("Azimuth = %v, want -3 + 10/2 = 2", got)
	}
	if got := p.Elevation(17); got != 4 {
		t.Fatalf("Elevation = %v, want -1 + 10/2 = 4", got)
	}
}

func TestParsePatternDBdGain(t *testing.T) {
	src := patternFile("GAIN 4 dBd\n", map[string]float64{"HORIZONTAL": 0, "VERTICAL": 0}, 360)
	p, err := ParsePattern(strings.NewReader(src), "dbd")
	if err != nil {
		t.Fatalf("ParsePattern error: %v", err)
	}
	want := (4 + DipoleGainDBi) / 2
	if got := p.Azimuth(0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("Azimuth(0) = %v, want %v", got, want)
	}
}

func TestParsePatternSingleSectionGetsFlatPlane(t *testing.T) {
	src := patternFile("GAIN 6\n", map[string]float64{"HORIZONTAL": 2}, 360)
	p, err := ParsePattern(strings.NewReader(src), "h-only")
	if err != nil {
		t.Fatalf("ParsePattern error: %v", err)
	}
	if got := p.Elevation(10); got != 3 {
		t.Fatalf("Elevation = %v, want flat gain/2 = 3", got)
	}
	if got := p.Azimuth(10); got != 1 {
		t.Fatalf("Azimuth = %v, want 1", got)
	}
}

func TestParsePatternErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no sections", "NAME x\nGAIN 3\n"},
		{"data before section", "GAIN 3\n0 0\n"},
		{"short horizontal", patternFile("", map[string]float64{"HORIZONTAL": 0}, 359)},
		{"short vertical", patternFile("", map[string]float64{"HORIZONTAL": 0, "VERTICAL": 0}, 200)},
		{"wrong declared count", "HORIZONTAL 180\n"},
		{"too many values", patternFile("", map[string]float64{"HORIZONTAL": 0}, 360) + "360 0\n"},
		{"bad attenuation", "HORIZONTAL 360\n0 abc\n"},
		{"bad gain", "GAIN high\n"},
		{"duplicate section", patternFile("", map[string]float64{"HORIZONTAL": 0}, 360) + patternFile("", map[string]float64{"HORIZONTAL": 0}, 360)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePattern(strings.NewReader(tt.src), "bad")
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) || fe.Source != "bad" {
				t.Fatalf("expected *FormatError for source bad, got %#v", err)
			}
		})
	}
}

func TestLoadPatternFileFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"patterns/sector.msi": &fstest.MapFile{Data: []byte(patternFile("GAIN 2\n", map[string]float64{"HORIZONTAL": 0, "VERTICAL": 0}, 360))},
	}
	p, err := LoadPatternFile(fsys, "patterns/sector.msi")
	if err != nil {
		t.Fatalf("LoadPatternFile error: %v", err)
	}
	if p.Name() != "sector.msi" || p.Azimuth(0) != 1 {
		t.Fatalf("unexpected pattern %q az0=%v", p.Name(), p.Azimuth(0))
	}
	if _, err := LoadPatternFile(fsys, "patterns/missing.msi"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPatternDigest(t *testing.T) {
	flat := make([]float64, PatternSize)
	a, err := NewRadiationPattern("a", flat, flat)
	if err != nil {
		t.Fatalf("NewRadiationPattern error: %v", err)
	}
	b, _ := NewRadiationPattern("b", flat, flat)
	if a.Digest() != b.Digest() {
		t.Fatalf("equal tables should share a digest")
	}
	if a.Digest() == DefaultPattern().Digest() {
		t.Fatalf("different tables should not share a digest")
	}
	if _, err := NewRadiationPattern("short", flat[:10], flat); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for short table, got %v", err)
	}
	bad := make([]float64, PatternSize)
	bad[3] = math.NaN()
	if _, err := NewRadiationPattern("nan", bad, flat); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for NaN, got %v", err)
	}
}

func TestPatternRegistry(t *testing.T) {
	r := NewPatternRegistry()
	p, err := r.Get("")
	if err != nil || p != DefaultPattern() {
		t.Fatalf("empty id should resolve to the default pattern, got %v, %v", p, err)
	}
	flat, _ := NewRadiationPattern("flat", make([]float64, PatternSize), make([]float64, PatternSize))
	if err := r.Register("flat", flat); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register("flat", flat); !errors.Is(err, ErrPatternExists) {
		t.Fatalf("expected ErrPatternExists, got %v", err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound, got %v", err)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "default" || ids[1] != "flat" {
		t.Fatalf("IDs() = %v", ids)
	}
	c := r.Clone()
	_ = c.Register("other", flat)
	if _, err := r.Get("other"); err == nil {
		t.Fatalf("clone registration leaked into original")
	}
}
