package govna

import (
	"fmt"
	"math/bits"
)

// DefaultSegmentPoints - число точек, которое NanoVNA отдает за один запрос.
const DefaultSegmentPoints = 101

// SweepConfig - параметры запрошенного сканирования.
type SweepConfig struct {
	Start, Stop uint64
	Points      int

	// Averages - число чтений каждого сегмента для усреднения (0 и 1 - без усреднения).
	Averages int
	// Truncates - сколько самых удаленных от среднего чтений отбросить в каждой точке.
	Truncates int
}

func (c SweepConfig) Validate() error {
	if c.Start == 0 || c.Stop <= c.Start {
		return fmt.Errorf("%w: диапазон %d..%d Гц", ErrInvalidSweep, c.Start, c.Stop)
	}
	if c.Points < 2 {
		return fmt.Errorf("%w: требуется не менее 2 точек, задано %d", ErrInvalidSweep, c.Points)
	}
	if c.Stop-c.Start < uint64(c.Points-1) {
		return fmt.Errorf("%w: шаг меньше 1 Гц", ErrInvalidSweep)
	}
	if c.Averages < 0 || c.Truncates < 0 {
		return fmt.Errorf("%w: отрицательные параметры усреднения", ErrInvalidSweep)
	}
	if c.Truncates > 0 && c.Truncates >= c.averages() {
		return fmt.Errorf("%w: отбрасывается %d из %d чтений", ErrInvalidSweep, c.Truncates, c.averages())
	}
	return nil
}

func (c SweepConfig) averages() int {
	if c.Averages < 1 {
		return 1
	}
	return c.Averages
}

// Frequency возвращает частоту j-й точки равномерной сетки сканирования
// с округлением до целого герца, 0 <= j < Points.
// Произведение j*span считается в 128 битах и не переполняется на всем диапазоне uint64.
func (c SweepConfig) Frequency(j int) uint64 {
	n := uint64(c.Points - 1)
	hi, lo := bits.Mul64(uint64(j), c.Stop-c.Start)
	q, r := bits.Div64(hi, lo, n)
	if r >= n-r {
		q++
	}
	return c.Start + q
}

// Segment - часть сканирования, которую прибор измеряет за одну команду.
type Segment struct {
	Index  int
	Start  uint64
	Stop   uint64
	Points int
	// Overlap: первая точка сегмента повторяет последнюю точку предыдущего
	// и отбрасывается при слиянии.
	Overlap bool
}

// NewPoints возвращает число точек, которые сегмент добавляет в сканирование.
func (s Segment) NewPoints() int {
	if s.Overlap {
		return s.Points - 1
	}
	return s.Points
}

func (s Segment) String() string {
	return fmt.Sprintf("#%d %d..%d Гц (%d точек)", s.Index, s.Start, s.Stop, s.Points)
}

// Partition делит сканирование на минимальное число сегментов не длиннее maxPoints.
// Точки распределяются поровну, остаток достается последним сегментам.
// Все сегменты лежат на общей равномерной сетке; если в сегменте остается
// место под еще одну точку, он начинается с последней частоты предыдущего.
func Partition(cfg SweepConfig, maxPoints int) ([]Segment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxPoints < 2 {
		return nil, fmt.Errorf("%w: размер сегмента %d меньше 2", ErrInvalidSweep, maxPoints)
	}

	k := (cfg.Points + maxPoints - 1) / maxPoints
	base, rem := cfg.Points/k, cfg.Points%k

	segments := make([]Segment, 0, k)
	offset := 0
	for i := 0; i < k; i++ {
		n := base
		if i >= k-rem {
			n++
		}
		seg := Segment{
			Index:  i,
			Start:  cfg.Frequency(offset),
			Stop:   cfg.Frequency(offset + n - 1),
			Points: n,
		}
		if i > 0 && n+1 <= maxPoints {
			seg.Start = cfg.Frequency(offset - 1)
			seg.Points = n + 1
			seg.Overlap = true
		}
		segments = append(segments, seg)
		offset += n
	}
	return segments, nil
}
