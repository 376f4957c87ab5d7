// core/scenario_loader.go
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
)

// ErrInvalidScenario marks structural problems in a scenario document.
var ErrInvalidScenario = errors.New("invalid scenario")

// ScenarioFormat selects the scenario decoder.
type ScenarioFormat int

const (
	FormatJSON ScenarioFormat = iota
	FormatYAML
)

func (f ScenarioFormat) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(p string) ScenarioFormat {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Scenario summarises what was loaded into the KB.
type Scenario struct {
	Canvas         model.Canvas
	Propagation    PropagationConfig
	PatternIDs     []string
	TransmitterIDs []string
	ReceiverIDs    []string
	ObstacleIDs    []string
}

// ScenarioDocument is the on-disk shape shared by the JSON and YAML forms.
type ScenarioDocument struct {
	Canvas      CanvasDocument    `json:"canvas" yaml:"canvas"`
	Propagation PropagationConfig `json:"propagation" yaml:"propagation"`
	// Patterns maps a pattern ID to a file path inside the loader's fs.FS.
	Patterns     map[string]string     `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Transmitters []TransmitterDocument `json:"transmitters" yaml:"transmitters"`
	Receivers    []ReceiverDocument    `json:"receivers" yaml:"receivers"`
	Obstacles    []ObstacleDocument    `json:"obstacles,omitempty" yaml:"obstacles,omitempty"`
}

type CanvasDocument struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type TransmitterDocument struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name,omitempty" yaml:"name,omitempty"`
	X              int     `json:"x" yaml:"x"`
	Y              int     `json:"y" yaml:"y"`
	HeightM        float64 `json:"height_m" yaml:"height_m"`
	PowerDBm       float64 `json:"power_dbm" yaml:"power_dbm"`
	OrientationDeg float64 `json:"orientation_deg" yaml:"orientation_deg"`
	Pattern        string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

type ReceiverDocument struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	X    int    `json:"x" yaml:"x"`
	Y    int    `json:"y" yaml:"y"`
}

type ObstacleDocument struct {
	ID     string  `json:"id" yaml:"id"`
	X      int     `json:"x" yaml:"x"`
	Y      int     `json:"y" yaml:"y"`
	Radius float64 `json:"radius" yaml:"radius"`
}

// DecodeScenario parses a scenario document without touching any store.
func DecodeScenario(r io.Reader, format ScenarioFormat) (*ScenarioDocument, error) {
	var doc ScenarioDocument
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&doc)
	default:
		err = json.NewDecoder(r).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidScenario, format, err)
	}
	return &doc, nil
}

// LoadScenario decodes a scenario from r and applies it to store and
// patterns. Pattern paths are resolved inside fsys.
func LoadScenario(store *kb.KnowledgeBase, patterns *PatternRegistry, fsys fs.FS, r io.Reader, format ScenarioFormat) (*Scenario, error) {
	doc, err := DecodeScenario(r, format)
	if err != nil {
		return nil, err
	}
	return doc.Apply(store, patterns, fsys)
}

// Apply validates the document and loads it. Patterns are registered in
// sorted ID order before transmitters so every reference can be checked.
// Loading stops at the first error; entities added before it stay.
func (d *ScenarioDocument) Apply(store *kb.KnowledgeBase, patterns *PatternRegistry, fsys fs.FS) (*Scenario, error) {
	if store == nil || patterns == nil {
		return nil, fmt.Errorf("LoadScenario: nil knowledge base or pattern registry")
	}
	cfg := d.Propagation.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	canvas := model.Canvas{Width: d.Canvas.Width, Height: d.Canvas.Height}
	if err := store.SetCanvas(canvas); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	res := &Scenario{Canvas: canvas, Propagation: cfg}

	ids := make([]string, 0, len(d.Patterns))
	for id := range d.Patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 && fsys == nil {
		return nil, fmt.Errorf("%w: patterns declared but no pattern directory configured", ErrInvalidScenario)
	}
	for _, id := range ids {
		p, err := LoadPatternFile(fsys, d.Patterns[id])
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidScenario, id, err)
		}
		if err := patterns.Register(id, p); err != nil {
			return nil, err
		}
		res.PatternIDs = append(res.PatternIDs, id)
	}

	for _, t := range d.Transmitters {
		tx := &model.Transmitter{
			ID:             t.ID,
			Name:           t.Name,
			Position:       model.Position{X: t.X, Y: t.Y},
			HeightM:        t.HeightM,
			PowerDBm:       t.PowerDBm,
			OrientationDeg: t.OrientationDeg,
			PatternID:      t.Pattern,
		}
		if _, err := patterns.Get(tx.Pattern()); err != nil {
			return nil, fmt.Errorf("transmitter %q: %w", t.ID, err)
		}
		if err := store.AddTransmitter(tx); err != nil {
			return nil, err
		}
		res.TransmitterIDs = append(res.TransmitterIDs, t.ID)
	}

	for _, r := range d.Receivers {
		if err := store.AddReceiver(&model.Receiver{
			ID:       r.ID,
			Name:     r.Name,
			Position: model.Position{X: r.X, Y: r.Y},
		}); err != nil {
			return nil, err
		}
		res.ReceiverIDs = append(res.ReceiverIDs, r.ID)
	}

	for _, o := range d.Obstacles {
		if err := store.AddObstacle(&model.Obstacle{
			ID:       o.ID,
			Position: model.Position{X: o.X, Y: o.Y},
			Radius:   o.Radius,
		}); err != nil {
			return nil, err
		}
		res.ObstacleIDs = append(res.ObstacleIDs, o.ID)
	}

	return res, nil
}
