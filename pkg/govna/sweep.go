package govna

import (
	"fmt"
	"time"
)

// Sweep - собранное сканирование. После сборки не изменяется:
// все методы возвращают копии данных.
type Sweep struct {
	id        string
	config    SweepConfig
	segments  []Segment
	points    []DataPoint
	createdAt time.Time
}

// NewSweep создает сканирование из готового набора точек (например, из файла
// или синтетических данных). Частоты должны строго возрастать.
func NewSweep(id string, points []DataPoint) (*Sweep, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: пустой набор точек", ErrInvalidSweep)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Frequency <= points[i-1].Frequency {
			return nil, fmt.Errorf("%w: частота точки %d (%d Гц) не больше предыдущей", ErrInvalidSweep, i, points[i].Frequency)
		}
	}
	cfg := SweepConfig{
		Start:  points[0].Frequency,
		Stop:   points[len(points)-1].Frequency,
		Points: len(points),
	}
	return newSweep(id, cfg, nil, cloneDataPoints(points)), nil
}

func newSweep(id string, cfg SweepConfig, segments []Segment, points []DataPoint) *Sweep {
	return &Sweep{
		id:        id,
		config:    cfg,
		segments:  segments,
		points:    points,
		createdAt: time.Now(),
	}
}

func (s *Sweep) ID() string           { return s.id }
func (s *Sweep) Config() SweepConfig  { return s.config }
func (s *Sweep) CreatedAt() time.Time { return s.createdAt }
func (s *Sweep) Len() int             { return len(s.points) }
func (s *Sweep) At(i int) DataPoint   { return s.points[i] }

func (s *Sweep) Points() []DataPoint { return cloneDataPoints(s.points) }

func (s *Sweep) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Sweep) Frequencies() []uint64 {
	out := make([]uint64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Frequency
	}
	return out
}

func (s *Sweep) S11() []complex128 {
	out := make([]complex128, len(s.points))
	for i, p := range s.points {
		out[i] = p.S11
	}
	return out
}

func (s *Sweep) S21() []complex128 {
	out := make([]complex128, len(s.points))
	for i, p := range s.points {
		out[i] = p.S21
	}
	return out
}

func cloneDataPoints(src []DataPoint) []DataPoint {
	if src == nil {
		return nil
	}
	dst := make([]DataPoint, len(src))
	copy(dst, src)
	return dst
}
