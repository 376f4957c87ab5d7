package kb

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/coverage-simulator/model"
)

var (
	ErrTransmitterExists   = errors.New("transmitter already exists")
	ErrTransmitterNotFound = errors.New("transmitter not found")
	ErrInvalidTransmitter  = errors.New("invalid transmitter")
	ErrReceiverExists      = errors.New("receiver already exists")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrInvalidReceiver     = errors.New("invalid receiver")
	ErrObstacleExists      = errors.New("obstacle already exists")
	ErrObstacleNotFound    = errors.New("obstacle not found")
	ErrInvalidObstacle     = errors.New("invalid obstacle")
	ErrInvalidCanvas       = errors.New("invalid canvas")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventTransmitterUpdated EventType = iota
	EventTransmitterRemoved
	EventReceiverUpdated
	EventReceiverRemoved
	EventObstaclesChanged
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventTransmitterUpdated:
		return "transmitter_updated"
	case EventTransmitterRemoved:
		return "transmitter_removed"
	case EventReceiverUpdated:
		return "receiver_updated"
	case EventReceiverRemoved:
		return "receiver_removed"
	case EventObstaclesChanged:
		return "obstacles_changed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
// ID is the affected entity, empty for EventObstaclesChanged and EventCleared.
type Event struct {
	Type EventType
	ID   string
}

// ScenarioMetricsRecorder receives entity counts whenever they change.
type ScenarioMetricsRecorder interface {
	SetScenarioCounts(transmitters, receivers, obstacles int)
}

// Option configures a KnowledgeBase.
type Option func(*KnowledgeBase)

// WithMetricsRecorder reports entity counts to rec after every mutation.
func WithMetricsRecorder(rec ScenarioMetricsRecorder) Option {
	return func(kb *KnowledgeBase) {
		kb.metrics = rec
	}
}

// WithCanvas sets the initial canvas size.
func WithCanvas(c model.Canvas) Option {
	return func(kb *KnowledgeBase) {
		kb.canvas = c
	}
}

type subscriber struct {
	id int
	fn func(Event)
}

// KnowledgeBase is an in-memory, thread-safe store for transmitters,
// receivers and obstacles. List results preserve insertion order so
// callers get a stable traversal.
type KnowledgeBase struct {
	mu sync.RWMutex

	canvas model.Canvas

	transmitters map[string]*model.Transmitter
	txOrder      []string
	receivers    map[string]*model.Receiver
	rxOrder      []string
	obstacles    map[string]*model.Obstacle
	obOrder      []string

	subs    []subscriber
	nextSub int

	metrics ScenarioMetricsRecorder
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase(opts ...Option) *KnowledgeBase {
	kb := &KnowledgeBase{
		transmitters: make(map[string]*model.Transmitter),
		receivers:    make(map[string]*model.Receiver),
		obstacles:    make(map[string]*model.Obstacle),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

// SetCanvas replaces the canvas size. Obstacle fields are rasterised to it,
// so subscribers see an EventObstaclesChanged.
func (kb *KnowledgeBase) SetCanvas(c model.Canvas) error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidCanvas, c.Width, c.Height)
	}
	kb.mu.Lock()
	kb.canvas = c
	kb.mu.Unlock()
	kb.notify(Event{Type: EventObstaclesChanged})
	return nil
}

// Canvas returns the current canvas size.
func (kb *KnowledgeBase) Canvas() model.Canvas {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.canvas
}

//
// ---------- Transmitters ----------
//

// AddTransmitter stores a copy of t. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddTransmitter(t *model.Transmitter) error {
	if err := validateTransmitter(t); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, exists := kb.transmitters[t.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTransmitterExists, t.ID)
	}
	kb.transmitters[t.ID] = t.Clone()
	kb.txOrder = append(kb.txOrder, t.ID)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventTransmitterUpdated, ID: t.ID})
	return nil
}

// UpdateTransmitter replaces the stored transmitter wholesale. Subscribers
// use the resulting event to discard derived state such as coverage masks.
func (kb *KnowledgeBase) UpdateTransmitter(t *model.Transmitter) error {
	if err := validateTransmitter(t); err != nil {
		return err
	}
	kb.mu.Lock()
	if _, ok := kb.transmitters[t.ID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTransmitterNotFound, t.ID)
	}
	kb.transmitters[t.ID] = t.Clone()
	kb.mu.Unlock()

	kb.notify(Event{Type: EventTransmitterUpdated, ID: t.ID})
	return nil
}

// RemoveTransmitter deletes a transmitter.
func (kb *KnowledgeBase) RemoveTransmitter(id string) error {
	kb.mu.Lock()
	if _, ok := kb.transmitters[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTransmitterNotFound, id)
	}
	delete(kb.transmitters, id)
	kb.txOrder = removeID(kb.txOrder, id)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventTransmitterRemoved, ID: id})
	return nil
}

// GetTransmitter returns a copy of the transmitter, or nil if not found.
func (kb *KnowledgeBase) GetTransmitter(id string) *model.Transmitter {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.transmitters[id].Clone()
}

// ListTransmitters returns copies of all transmitters in insertion order.
func (kb *KnowledgeBase) ListTransmitters() []*model.Transmitter {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Transmitter, 0, len(kb.txOrder))
	for _, id := range kb.txOrder {
		res = append(res, kb.transmitters[id].Clone())
	}
	return res
}

//
// ---------- Receivers ----------
//

// AddReceiver stores a copy of r.
func (kb *KnowledgeBase) AddReceiver(r *model.Receiver) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidReceiver)
	}
	kb.mu.Lock()
	if _, exists := kb.receivers[r.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrReceiverExists, r.ID)
	}
	kb.receivers[r.ID] = r.Clone()
	kb.rxOrder = append(kb.rxOrder, r.ID)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventReceiverUpdated, ID: r.ID})
	return nil
}

// UpdateReceiverPosition moves a receiver.
func (kb *KnowledgeBase) UpdateReceiverPosition(id string, pos model.Position) error {
	kb.mu.Lock()
	r, ok := kb.receivers[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrReceiverNotFound, id)
	}
	r.Position = pos
	kb.mu.Unlock()

	kb.notify(Event{Type: EventReceiverUpdated, ID: id})
	return nil
}

// RemoveReceiver deletes a receiver.
func (kb *KnowledgeBase) RemoveReceiver(id string) error {
	kb.mu.Lock()
	if _, ok := kb.receivers[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrReceiverNotFound, id)
	}
	delete(kb.receivers, id)
	kb.rxOrder = removeID(kb.rxOrder, id)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventReceiverRemoved, ID: id})
	return nil
}

// GetReceiver returns a copy of the receiver, or nil if not found.
func (kb *KnowledgeBase) GetReceiver(id string) *model.Receiver {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.receivers[id].Clone()
}

// ListReceivers returns copies of all receivers in insertion order.
func (kb *KnowledgeBase) ListReceivers() []*model.Receiver {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Receiver, 0, len(kb.rxOrder))
	for _, id := range kb.rxOrder {
		res = append(res, kb.receivers[id].Clone())
	}
	return res
}

//
// ---------- Obstacles ----------
//

// AddObstacle stores a copy of o.
func (kb *KnowledgeBase) AddObstacle(o *model.Obstacle) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidObstacle)
	}
	if o.Radius < 0 || math.IsNaN(o.Radius) || math.IsInf(o.Radius, 0) {
		return fmt.Errorf("%w: radius %v", ErrInvalidObstacle, o.Radius)
	}
	kb.mu.Lock()
	if _, exists := kb.obstacles[o.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrObstacleExists, o.ID)
	}
	c := *o
	kb.obstacles[o.ID] = &c
	kb.obOrder = append(kb.obOrder, o.ID)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventObstaclesChanged})
	return nil
}

// RemoveObstacle deletes an obstacle.
func (kb *KnowledgeBase) RemoveObstacle(id string) error {
	kb.mu.Lock()
	if _, ok := kb.obstacles[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrObstacleNotFound, id)
	}
	delete(kb.obstacles, id)
	kb.obOrder = removeID(kb.obOrder, id)
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventObstaclesChanged})
	return nil
}

// ListObstacles returns value copies of all obstacles in insertion order.
func (kb *KnowledgeBase) ListObstacles() []model.Obstacle {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Obstacle, 0, len(kb.obOrder))
	for _, id := range kb.obOrder {
		res = append(res, *kb.obstacles[id])
	}
	return res
}

// Clear drops every entity but keeps the canvas and subscribers.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	kb.transmitters = make(map[string]*model.Transmitter)
	kb.receivers = make(map[string]*model.Receiver)
	kb.obstacles = make(map[string]*model.Obstacle)
	kb.txOrder, kb.rxOrder, kb.obOrder = nil, nil, nil
	kb.mu.Unlock()

	kb.recordCounts()
	kb.notify(Event{Type: EventCleared})
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, s := range kb.subs {
			if s.id == id {
				kb.subs = append(kb.subs[:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

// notify delivers e outside the lock to avoid deadlocks with subscribers
// that read back from the KB.
func (kb *KnowledgeBase) notify(e Event) {
	kb.mu.RLock()
	subs := append([]subscriber(nil), kb.subs...)
	kb.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

func (kb *KnowledgeBase) recordCounts() {
	if kb.metrics == nil {
		return
	}
	kb.mu.RLock()
	tx, rx, ob := len(kb.transmitters), len(kb.receivers), len(kb.obstacles)
	kb.mu.RUnlock()
	kb.metrics.SetScenarioCounts(tx, rx, ob)
}

func validateTransmitter(t *model.Transmitter) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidTransmitter)
	}
	for name, v := range map[string]float64{
		"height":      t.HeightM,
		"power":       t.PowerDBm,
		"orientation": t.OrientationDeg,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s of %q is not finite", ErrInvalidTransmitter, name, t.ID)
		}
	}
	if t.HeightM < 0 {
		return fmt.Errorf("%w: negative height for %q", ErrInvalidTransmitter, t.ID)
	}
	return nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
