package govna

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

const (
	SpeedOfLight = 299792458.0

	// MinTDRPoints - минимальное число точек сканирования для расчета TDR.
	MinTDRPoints = 2

	DefaultFFTSize = 1 << 14

	// maxTDRBins ограничивает равномерную сетку для узких сканирований на высоких частотах.
	maxTDRBins = 1 << 18
)

// Window - оконная функция, применяемая к спектру перед обратным БПФ.
// Выбор окна влияет на ширину пика и уровень боковых лепестков.
type Window int

const (
	WindowHamming Window = iota
	WindowBlackman
	WindowRectangular
)

func (w Window) String() string {
	switch w {
	case WindowHamming:
		return "hamming"
	case WindowBlackman:
		return "blackman"
	case WindowRectangular:
		return "rectangular"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// ParseWindow разбирает имя оконной функции.
func ParseWindow(name string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hamming":
		return WindowHamming, nil
	case "blackman":
		return WindowBlackman, nil
	case "rectangular", "rect", "none":
		return WindowRectangular, nil
	}
	return 0, fmt.Errorf("неизвестная оконная функция %q", name)
}

// VelocityPresets - типовые коэффициенты укорочения кабелей.
var VelocityPresets = map[string]float64{
	"jelly-filled": 0.64,
	"polyethylene": 0.66,
	"ptfe":         0.70,
	"pulp":         0.72,
	"foam-pe":      0.78,
	"sspe":         0.84,
	"air":          0.94,
	"rg174":        0.66,
	"rg316":        0.69,
	"rg402":        0.695,
}

// TDRResult - рефлектограмма, рассчитанная по S11. Не изменяется после расчета.
type TDRResult struct {
	SweepID        string
	VelocityFactor float64
	Window         Window
	Distances      []float64
	Response       []float64
	PeakIndex      int
	PeakDistance   float64
}

type tdrConfig struct {
	window   Window
	fftSize  int
	deadZone time.Duration
}

// TDROption настраивает расчет TDR.
type TDROption func(*tdrConfig)

func WithWindow(w Window) TDROption {
	return func(c *tdrConfig) { c.window = w }
}

// WithFFTSize задает длину обратного БПФ; значение округляется вверх до степени двойки.
func WithFFTSize(n int) TDROption {
	return func(c *tdrConfig) {
		if n > 0 {
			c.fftSize = n
		}
	}
}

// WithDeadZone задает начальный интервал времени, в котором пик не ищется
// (отражение от разъема самого прибора). По умолчанию 2/fmax;
// отрицательное значение отключает мертвую зону.
func WithDeadZone(d time.Duration) TDROption {
	return func(c *tdrConfig) { c.deadZone = d }
}

// ComputeTDR рассчитывает рефлектограмму по S11 сканирования.
//
// S11 интерполируется на равномерную сетку 0..fmax с шагом, равным среднему шагу
// измерений; ниже первой измеренной частоты (включая постоянную составляющую)
// повторяется первое измеренное значение. Спектр взвешивается правой половиной
// окна, дополняется нулями и переводится во временную область обратным БПФ.
// Расстояние считается в одну сторону: t·c·v/2.
func ComputeTDR(s *Sweep, velocityFactor float64, opts ...TDROption) (*TDRResult, error) {
	if !(velocityFactor > 0 && velocityFactor <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVelocityFactor, velocityFactor)
	}
	if s == nil || s.Len() < MinTDRPoints {
		n := 0
		if s != nil {
			n = s.Len()
		}
		return nil, fmt.Errorf("%w: %d точек, требуется не менее %d", ErrInsufficientPoints, n, MinTDRPoints)
	}

	cfg := tdrConfig{window: WindowHamming, fftSize: DefaultFFTSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := s.Len()
	xs := make([]float64, n)
	re := make([]float64, n)
	im := make([]float64, n)
	for i, p := range s.points {
		xs[i] = float64(p.Frequency)
		re[i] = real(p.S11)
		im[i] = imag(p.S11)
	}
	fmin, fmax := xs[0], xs[n-1]

	step := (fmax - fmin) / float64(n-1)
	bins := maxTDRBins
	if r := math.Round(fmax / step); r < maxTDRBins-1 {
		bins = int(r) + 1
	}
	df := fmax / float64(bins-1)

	var plRe, plIm interp.PiecewiseLinear
	if err := plRe.Fit(xs, re); err != nil {
		return nil, fmt.Errorf("интерполяция S11: %w", err)
	}
	if err := plIm.Fit(xs, im); err != nil {
		return nil, fmt.Errorf("интерполяция S11: %w", err)
	}

	size := nextPow2(cfg.fftSize)
	for size < 2*bins {
		size *= 2
	}

	taper := halfWindow(cfg.window, bins)
	spectrum := make([]complex128, size)
	for k := 0; k < bins; k++ {
		f := float64(k) * df
		spectrum[k] = complex(plRe.Predict(f), plIm.Predict(f)) * complex(taper[k], 0)
	}
	norm := floats.Sum(taper)

	seq := fourier.NewCmplxFFT(size).Sequence(nil, spectrum)

	dt := 1 / (float64(size) * df)
	scale := SpeedOfLight * velocityFactor / 2
	res := &TDRResult{
		SweepID:        s.id,
		VelocityFactor: velocityFactor,
		Window:         cfg.window,
		Distances:      make([]float64, size),
		Response:       make([]float64, size),
	}
	for i, v := range seq {
		res.Response[i] = cmplx.Abs(v) / norm
		res.Distances[i] = float64(i) * dt * scale
	}

	deadZone := cfg.deadZone.Seconds()
	if cfg.deadZone == 0 {
		deadZone = 2 / fmax
	}
	skip := int(math.Ceil(deadZone / dt))
	if skip < 0 {
		skip = 0
	}
	if skip >= size {
		return nil, fmt.Errorf("%w: мертвая зона %v перекрывает весь диапазон", ErrInsufficientPoints, deadZone)
	}

	res.PeakIndex = skip + floats.MaxIdx(res.Response[skip:])
	res.PeakDistance = res.Distances[res.PeakIndex]
	return res, nil
}

// halfWindow возвращает правую половину симметричного окна длиной 2n:
// вес максимален на нулевой частоте и спадает к fmax.
func halfWindow(w Window, n int) []float64 {
	full := make([]float64, 2*n)
	for i := range full {
		full[i] = 1
	}
	switch w {
	case WindowBlackman:
		window.Blackman(full)
	case WindowRectangular:
		window.Rectangular(full)
	default:
		window.Hamming(full)
	}
	return full[n:]
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
