package govna

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momentics/govna-tdr/internal/util"
	"github.com/momentics/govna-tdr/internal/vnasim"
)

// simPorts открывает симуляторы вместо последовательных портов.
type simPorts struct {
	mu      sync.Mutex
	opened  map[string]int
	devices map[string]*vnasim.Device
	setup   func(path string, dev *vnasim.Device)
}

func newSimPorts(setup func(path string, dev *vnasim.Device)) *simPorts {
	return &simPorts{opened: make(map[string]int), devices: make(map[string]*vnasim.Device), setup: setup}
}

func (s *simPorts) open(path string, opts util.PortOptions) (util.SerialPortInterface, error) {
	if path == "/dev/missing" {
		return nil, errors.New("no such file or directory")
	}
	dev := vnasim.New(nil)
	if s.setup != nil {
		s.setup(path, dev)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened[path]++
	s.devices[path] = dev
	return dev, nil
}

func (s *simPorts) device(path string) *vnasim.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[path]
}

func (s *simPorts) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[path]
}

// Опознание NanoVNA-H с пределом по умолчанию
func TestProbe_DefaultSegmentPoints(t *testing.T) {
	info, err := Probe(NewLink(vnasim.New(nil)))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	want := DeviceInfo{Version: "1.2.20", Board: "NanoVNA-H", MaxSegmentPoints: 101}
	if info != want {
		t.Fatalf("Expected %+v, got %+v", want, info)
	}
}

// Прошивка с 201 точкой на команду
func TestProbe_ReadsSweepPoints(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Info = []string{"Board: NanoVNA-H 4", "Parameters: POINTS 201, sweep_points 201"}

	info, err := Probe(NewLink(dev))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.MaxSegmentPoints != 201 {
		t.Errorf("Expected 201 points, got %d", info.MaxSegmentPoints)
	}
	if info.Board != "NanoVNA-H 4" {
		t.Errorf("Expected board NanoVNA-H 4, got %q", info.Board)
	}
}

// Устройство без оболочки NanoVNA не опознается
func TestProbe_RejectsUnknownDevice(t *testing.T) {
	dev := vnasim.New(nil)
	dev.Info = []string{"Board: STM32 generic", "Version: 0.1"}

	if _, err := Probe(NewLink(dev)); err == nil {
		t.Fatal("Expected error for unknown device")
	}
}

func TestVNAPool_GetOpensOnce(t *testing.T) {
	ports := newSimPorts(nil)
	pool := NewVNAPool(WithPortOpener(ports.open))
	defer pool.CloseAll()

	first, err := pool.Get("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := pool.Get("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first != second {
		t.Fatal("Expected the same VNA for the same port")
	}
	if n := ports.count("/dev/ttyACM0"); n != 1 {
		t.Fatalf("Expected port to be opened once, got %d", n)
	}
	if first.Info().MaxSegmentPoints != 101 {
		t.Errorf("Expected 101 points, got %d", first.Info().MaxSegmentPoints)
	}
}

func TestVNAPool_GetErrors(t *testing.T) {
	ports := newSimPorts(func(path string, dev *vnasim.Device) {
		if path == "/dev/other" {
			dev.Info = []string{"Board: something else"}
		}
	})
	pool := NewVNAPool(WithPortOpener(ports.open))

	if _, err := pool.Get("/dev/missing"); err == nil {
		t.Fatal("Expected open error")
	}
	if _, err := pool.Get("/dev/other"); err == nil {
		t.Fatal("Expected probe error")
	}
	// Неопознанное устройство закрывается и не кэшируется.
	if _, err := ports.device("/dev/other").Write([]byte("\r")); !errors.Is(err, vnasim.ErrClosed) {
		t.Fatalf("Expected closed port, got %v", err)
	}
	if _, err := pool.Get("/dev/other"); err == nil {
		t.Fatal("Expected probe error")
	}
	if n := ports.count("/dev/other"); n != 2 {
		t.Fatalf("Expected two open attempts, got %d", n)
	}
}

func TestVNAPool_DropReopens(t *testing.T) {
	ports := newSimPorts(nil)
	pool := NewVNAPool(WithPortOpener(ports.open), WithLinkOptions(WithCommandTimeout(time.Second)))
	defer pool.CloseAll()

	first, err := pool.Get("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dev := ports.device("/dev/ttyACM0")
	if err := pool.Drop("/dev/ttyACM0"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if _, err := dev.Write([]byte("\r")); !errors.Is(err, vnasim.ErrClosed) {
		t.Fatalf("Expected closed port after Drop, got %v", err)
	}
	if err := pool.Drop("/dev/ttyACM0"); err != nil {
		t.Fatalf("Second Drop failed: %v", err)
	}

	second, err := pool.Get("/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first == second {
		t.Fatal("Expected a new VNA after Drop")
	}
}

// Сканирование шире предела прибора и TDR по его результату
func TestVNA_SweepAndTDR(t *testing.T) {
	dev := vnasim.New(nil)
	v := NewVNA(NewLink(dev), DeviceInfo{MaxSegmentPoints: 101})
	defer v.Close()

	if _, err := v.TDR(0.66); !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("Expected ErrInsufficientPoints before sweep, got %v", err)
	}

	cfg := SweepConfig{Start: 1_000_000, Stop: 500_000_000, Points: 500}
	sweep, err := v.Sweep(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if sweep.Len() != 500 {
		t.Fatalf("Expected 500 points, got %d", sweep.Len())
	}
	if n := len(dev.ScanCommands()); n != 5 {
		t.Fatalf("Expected 5 segment commands, got %d", n)
	}
	if v.LastSweep() != sweep {
		t.Fatal("LastSweep must return the latest sweep")
	}

	res, err := v.TDR(0.66)
	if err != nil {
		t.Fatalf("TDR failed: %v", err)
	}
	want := 10e-9 * SpeedOfLight * 0.66 / 2
	if d := res.PeakDistance - want; d > 0.02 || d < -0.02 {
		t.Errorf("Expected peak near %.3f m, got %.3f m", want, res.PeakDistance)
	}
	cached, err := v.TDR(0.66)
	if err != nil {
		t.Fatalf("TDR failed: %v", err)
	}
	if cached != res {
		t.Error("Expected cached TDR result")
	}

	next, err := v.Sweep(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	fresh, err := v.TDR(0.66)
	if err != nil {
		t.Fatalf("TDR failed: %v", err)
	}
	if fresh == res || fresh.SweepID != next.ID() {
		t.Error("New sweep must invalidate cached TDR")
	}
}

func TestVNA_RejectsConcurrentSweep(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	dev := vnasim.New(nil)
	dev.Intercept = func(n int, cmd string) vnasim.Reaction {
		if n == 0 {
			close(started)
			<-release
		}
		return vnasim.Reaction{Action: vnasim.Respond}
	}
	v := NewVNA(NewLink(dev), DeviceInfo{MaxSegmentPoints: 101})
	defer v.Close()

	cfg := SweepConfig{Start: 1_000_000, Stop: 2_000_000, Points: 101}
	done := make(chan error, 1)
	go func() {
		_, err := v.Sweep(context.Background(), cfg)
		done <- err
	}()

	<-started
	if _, err := v.Sweep(context.Background(), cfg); !errors.Is(err, ErrLinkBusy) {
		t.Errorf("Expected ErrLinkBusy, got %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}
	if n := len(dev.ScanCommands()); n != 1 {
		t.Fatalf("Rejected sweep must not reach the device, got %d commands", n)
	}
}

// Close прерывает сканирование на границе сегментов
func TestVNA_CloseCancelsSweep(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	dev := vnasim.New(nil)
	dev.Intercept = func(n int, cmd string) vnasim.Reaction {
		if n == 0 {
			close(started)
			<-release
		}
		return vnasim.Reaction{Action: vnasim.Respond}
	}
	v := NewVNA(NewLink(dev), DeviceInfo{MaxSegmentPoints: 101})

	done := make(chan error, 1)
	go func() {
		_, err := v.Sweep(context.Background(), SweepConfig{Start: 1_000_000, Stop: 2_000_000, Points: 303})
		done <- err
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- v.Close() }()
	waitFor(t, func() bool {
		v.mu.RLock()
		defer v.mu.RUnlock()
		return v.closed
	})
	close(release)

	if err := <-done; !errors.Is(err, ErrSweepCancelled) {
		t.Fatalf("Expected ErrSweepCancelled, got %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := len(dev.ScanCommands()); n != 1 {
		t.Fatalf("Expected 1 segment command, got %d", n)
	}
	if _, err := v.Sweep(context.Background(), SweepConfig{Start: 1_000_000, Stop: 2_000_000, Points: 101}); !errors.Is(err, ErrLinkDisconnected) {
		t.Fatalf("Expected ErrLinkDisconnected after Close, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in %v", 2*time.Second)
		}
		time.Sleep(time.Millisecond)
	}
}
