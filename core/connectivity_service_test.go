package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
)

type recordingMetrics struct {
	mu           sync.Mutex
	computations int
	hits, misses int
	runs         map[string]int
}

func (m *recordingMetrics) ObserveCoverageComputation(time.Duration, int) {
	m.mu.Lock()
	m.computations++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordConnectivityRun(path string, _ time.Duration) {
	m.mu.Lock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[path]++
	m.mu.Unlock()
}

func newTestService(t *testing.T, opts ...ServiceOption) (*ConnectivityService, *kb.KnowledgeBase) {
	t.Helper()
	store := kb.NewKnowledgeBase(kb.WithCanvas(model.Canvas{Width: 100, Height: 100}))
	svc := NewConnectivityService(store, nil, newTestPropagator(t), opts...)
	t.Cleanup(svc.Close)
	return svc, store
}

func mustAddTx(t *testing.T, store *kb.KnowledgeBase, tx *model.Transmitter) {
	t.Helper()
	if err := store.AddTransmitter(tx); err != nil {
		t.Fatalf("AddTransmitter(%s) error: %v", tx.ID, err)
	}
}

func mustAddRx(t *testing.T, store *kb.KnowledgeBase, r *model.Receiver) {
	t.Helper()
	if err := store.AddReceiver(r); err != nil {
		t.Fatalf("AddReceiver(%s) error: %v", r.ID, err)
	}
}

func TestConnectivityRunPaths(t *testing.T) {
	tests := []struct {
		name   string
		rxA    *model.Receiver
		rxB    *model.Receiver
		want   PathResult
		wantA  int
		wantB  int
		wallOn bool
	}{
		{"direct", rx("R1", 12, 10), rx("R2", 10, 13), Direct("T1"), 1, 1, false},
		{"bridged", rx("R1", 12, 10), rx("R2", 82, 80), Bridged("T1", "T2"), 1, 1, false},
		{"no signal for a", rx("R1", 45, 45), rx("R2", 82, 80), NoSignal(SideA), 0, 1, false},
		{"blocked by wall", rx("R1", 80, 85), rx("R2", 85, 80), NoSignal(SideA), 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			svc, store := newTestService(t, WithMetrics(metrics))
			mustAddTx(t, store, dipoleTx("T1", 10, 10, 45))
			mustAddTx(t, store, dipoleTx("T2", 80, 80, 45))
			mustAddRx(t, store, tt.rxA)
			mustAddRx(t, store, tt.rxB)
			if tt.wallOn {
				if err := store.AddObstacle(&model.Obstacle{ID: "wall", Position: model.Position{X: 80, Y: 82}, Radius: 1}); err != nil {
					t.Fatalf("AddObstacle error: %v", err)
				}
			}

			res, err := svc.Run(context.Background(), "R1", "R2")
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if res.Path != tt.want {
				t.Fatalf("Path = %v, want %v", res.Path, tt.want)
			}
			if res.CoverageA.Len() != tt.wantA || res.CoverageB.Len() != tt.wantB {
				t.Fatalf("coverage sizes = %d/%d, want %d/%d", res.CoverageA.Len(), res.CoverageB.Len(), tt.wantA, tt.wantB)
			}
			if metrics.runs[tt.want.Kind.String()] != 1 {
				t.Fatalf("expected one %s run recorded, got %v", tt.want.Kind, metrics.runs)
			}
			if metrics.computations != 2 {
				t.Fatalf("computations = %d, want 2", metrics.computations)
			}
		})
	}
}

func TestConnectivityRunUsesCache(t *testing.T) {
	metrics := &recordingMetrics{}
	cache := NewCoverageCache(time.Minute)
	svc, store := newTestService(t, WithMetrics(metrics), WithCache(cache), WithMaxParallel(1))
	mustAddTx(t, store, dipoleTx("T1", 10, 10, 45))
	mustAddTx(t, store, dipoleTx("T2", 80, 80, 45))
	mustAddRx(t, store, rx("R1", 12, 10))
	mustAddRx(t, store, rx("R2", 82, 80))

	for i := 0; i < 2; i++ {
		if _, err := svc.Run(context.Background(), "R1", "R2"); err != nil {
			t.Fatalf("Run %d error: %v", i, err)
		}
	}
	if metrics.computations != 2 || metrics.hits != 2 || metrics.misses != 2 {
		t.Fatalf("computations=%d hits=%d misses=%d, want 2/2/2", metrics.computations, metrics.hits, metrics.misses)
	}

	// Turning T1 drops its cached mask and puts R1 on the dipole axis.
	tx := store.GetTransmitter("T1")
	tx.OrientationDeg = 0
	if err := store.UpdateTransmitter(tx); err != nil {
		t.Fatalf("UpdateTransmitter error: %v", err)
	}
	res, err := svc.Run(context.Background(), "R1", "R2")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if metrics.computations != 3 {
		t.Fatalf("computations = %d, want 3 after update", metrics.computations)
	}
	if res.Path != NoSignal(SideA) {
		t.Fatalf("Path = %v, want NoSignal(A)", res.Path)
	}
}

func TestConnectivityRunErrors(t *testing.T) {
	svc, store := newTestService(t)
	mustAddTx(t, store, dipoleTx("T1", 10, 10, 45))
	mustAddRx(t, store, rx("R1", 12, 10))

	if _, err := svc.Run(context.Background(), "R1", "ghost"); !errors.Is(err, kb.ErrReceiverNotFound) {
		t.Fatalf("expected ErrReceiverNotFound, got %v", err)
	}
	if _, err := svc.CoverageFor(context.Background(), "ghost"); !errors.Is(err, kb.ErrReceiverNotFound) {
		t.Fatalf("expected ErrReceiverNotFound, got %v", err)
	}
	if _, err := svc.CoverageMask(context.Background(), "ghost"); !errors.Is(err, kb.ErrTransmitterNotFound) {
		t.Fatalf("expected ErrTransmitterNotFound, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Run(ctx, "R1", "R1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	bad := dipoleTx("T2", 20, 20, 0)
	bad.PatternID = "missing"
	mustAddTx(t, store, bad)
	if _, err := svc.Run(context.Background(), "R1", "R1"); !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound, got %v", err)
	}

	var unconfigured *ConnectivityService
	if _, err := unconfigured.Run(context.Background(), "R1", "R1"); !errors.Is(err, ErrServiceNotConfigured) {
		t.Fatalf("expected ErrServiceNotConfigured, got %v", err)
	}
}

func TestCoverageForOrdersByTransmitterInsertion(t *testing.T) {
	svc, store := newTestService(t)
	mustAddTx(t, store, dipoleTx("T9", 14, 10, 45))
	mustAddTx(t, store, dipoleTx("T1", 10, 10, 45))
	mustAddTx(t, store, dipoleTx("T5", 90, 90, 45))
	mustAddRx(t, store, rx("R1", 12, 10))

	set, err := svc.CoverageFor(context.Background(), "R1")
	if err != nil {
		t.Fatalf("CoverageFor error: %v", err)
	}
	ids := set.IDs()
	if len(ids) != 2 || ids[0] != "T9" || ids[1] != "T1" {
		t.Fatalf("CoverageFor = %v, want [T9 T1]", ids)
	}
}

func TestCoverageMaskUsesRegisteredPattern(t *testing.T) {
	svc, store := newTestService(t)
	flat := make([]float64, PatternSize)
	omni, _ := NewRadiationPattern("omni", flat, flat)
	if err := svc.Patterns.Register("omni", omni); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	tx := dipoleTx("T1", 10, 10, 0)
	tx.PatternID = "omni"
	mustAddTx(t, store, tx)

	mask, err := svc.CoverageMask(context.Background(), "T1")
	if err != nil {
		t.Fatalf("CoverageMask error: %v", err)
	}
	if !mask.At(5, 0) {
		t.Fatalf("omni pattern should cover (5,0)")
	}
}

func TestConnectivityRunConcurrent(t *testing.T) {
	svc, store := newTestService(t, WithCache(NewCoverageCache(time.Minute)))
	mustAddTx(t, store, dipoleTx("T1", 10, 10, 45))
	mustAddTx(t, store, dipoleTx("T2", 80, 80, 45))
	mustAddRx(t, store, rx("R1", 12, 10))
	mustAddRx(t, store, rx("R2", 82, 80))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Run(context.Background(), "R1", "R2")
			if err != nil {
				errs <- err
				return
			}
			if res.Path != Bridged("T1", "T2") {
				errs <- errors.New("unexpected path " + res.Path.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent run: %v", err)
	}
}
