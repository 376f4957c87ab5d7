package core

import (
	"encoding/json"
	"fmt"
)

// CoverageSet is the ordered set of transmitters reaching one receiver.
// Order is insertion order and drives every deterministic choice made by
// ResolvePath.
type CoverageSet struct {
	ids   []string
	index map[string]struct{}
}

// NewCoverageSet builds a set from ids, dropping duplicates.
func NewCoverageSet(ids ...string) CoverageSet {
	var s CoverageSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add appends id unless already present and reports whether it was added.
func (s *CoverageSet) Add(id string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Contains reports membership.
func (s CoverageSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of transmitters.
func (s CoverageSet) Len() int { return len(s.ids) }

// IDs returns a copy of the members in order.
func (s CoverageSet) IDs() []string {
	return append([]string(nil), s.ids...)
}

// First returns the earliest inserted member.
func (s CoverageSet) First() (string, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[0], true
}

// MarshalJSON encodes the set as an ordered array.
func (s CoverageSet) MarshalJSON() ([]byte, error) {
	ids := s.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON decodes an array of IDs.
func (s *CoverageSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewCoverageSet(ids...)
	return nil
}

// PathKind classifies a resolved connection.
type PathKind int

const (
	PathNone PathKind = iota
	PathDirect
	PathBridged
)

func (k PathKind) String() string {
	switch k {
	case PathDirect:
		return "direct"
	case PathBridged:
		return "bridged"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PathKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PathKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*k = PathNone
	case "direct":
		*k = PathDirect
	case "bridged":
		*k = PathBridged
	default:
		return fmt.Errorf("unknown path kind %q", b)
	}
	return nil
}

// Side names the receiver(s) without signal in a PathNone result.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
	SideBoth
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	case SideBoth:
		return "both"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*s = SideNone
	case "A":
		*s = SideA
	case "B":
		*s = SideB
	case "both":
		*s = SideBoth
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// PathResult is the outcome of ResolvePath. For PathDirect both transmitter
// fields hold the shared transmitter; for PathBridged each holds the
// transmitter serving that receiver. The relay between the two bridged
// transmitters is not verified.
type PathResult struct {
	Kind         PathKind `json:"kind"`
	TransmitterA string   `json:"transmitter_a,omitempty"`
	TransmitterB string   `json:"transmitter_b,omitempty"`
	NoSignal     Side     `json:"no_signal,omitempty"`
}

// Direct returns a single-transmitter path.
func Direct(id string) PathResult {
	return PathResult{Kind: PathDirect, TransmitterA: id, TransmitterB: id}
}

// Bridged returns a two-transmitter path.
func Bridged(a, b string) PathResult {
	return PathResult{Kind: PathBridged, TransmitterA: a, TransmitterB: b}
}

// NoSignal returns a failed path naming the receiver(s) without coverage.
func NoSignal(which Side) PathResult {
	return PathResult{Kind: PathNone, NoSignal: which}
}

func (r PathResult) String() string {
	switch r.Kind {
	case PathDirect:
		return fmt.Sprintf("Direct(%s)", r.TransmitterA)
	case PathBridged:
		return fmt.Sprintf("Bridged(%s, %s)", r.TransmitterA, r.TransmitterB)
	default:
		return fmt.Sprintf("NoSignal(%s)", r.NoSignal)
	}
}

// ResolvePath picks a connection between two receivers given the
// transmitters covering each. A shared transmitter wins (the first one in
// a's order); otherwise the first transmitter of each set forms a bridge.
func ResolvePath(a, b CoverageSet) PathResult {
	switch {
	case a.Len() == 0 && b.Len() == 0:
		return NoSignal(SideBoth)
	case a.Len() == 0:
		return NoSignal(SideA)
	case b.Len() == 0:
		return NoSignal(SideB)
	}
	for _, id := range a.ids {
		if b.Contains(id) {
			return Direct(id)
		}
	}
	firstA, _ := a.First()
	firstB, _ := b.First()
	return Bridged(firstA, firstB)
}
