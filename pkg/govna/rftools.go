package govna

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
)

// ReferenceImpedance - волновое сопротивление тракта NanoVNA.
const ReferenceImpedance = 50.0

// VSWR возвращает КСВ по коэффициенту отражения.
func VSWR(gamma complex128) float64 {
	mag := cmplx.Abs(gamma)
	if mag >= 1.0 {
		return 9999.0 // Практически бесконечное значение
	}
	return (1 + mag) / (1 - mag)
}

// ReturnLoss возвращает модуль коэффициента отражения в дБ (20·lg|Г|).
func ReturnLoss(gamma complex128) float64 {
	mag := cmplx.Abs(gamma)
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

// Impedance пересчитывает коэффициент отражения в комплексное сопротивление нагрузки.
func Impedance(gamma complex128, z0 float64) complex128 {
	if gamma == 1 {
		return cmplx.Inf()
	}
	return complex(z0, 0) * (1 + gamma) / (1 - gamma)
}

// ReflectionCoefficient - обратное к Impedance преобразование.
func ReflectionCoefficient(z complex128, z0 float64) complex128 {
	return (z - complex(z0, 0)) / (z + complex(z0, 0))
}

// CalculateVSWR возвращает КСВ для каждой точки сканирования.
func (s *Sweep) CalculateVSWR() []float64 {
	vswr := make([]float64, len(s.points))
	for i, p := range s.points {
		vswr[i] = VSWR(p.S11)
	}
	return vswr
}

// MinVSWR возвращает индекс точки с минимальным КСВ (резонанс антенны).
func (s *Sweep) MinVSWR() (int, float64) {
	best, idx := math.Inf(1), -1
	for i, p := range s.points {
		if v := VSWR(p.S11); v < best {
			best, idx = v, i
		}
	}
	return idx, best
}

var siPrefixes = []string{"", "k", "M", "G", "T"}

// ParseFrequency разбирает частоту вида "14.2M", "144 MHz", "7000k" или "3500000".
func ParseFrequency(text string) (uint64, error) {
	s := strings.Join(strings.Fields(text), "")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "Hz"), "hz")
	if s == "" {
		return 0, fmt.Errorf("пустое значение частоты")
	}

	multiplier := 1.0
	last := s[len(s)-1:]
	for i, p := range siPrefixes[1:] {
		if strings.EqualFold(last, p) {
			multiplier = math.Pow(1000, float64(i+1))
			s = s[:len(s)-1]
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("не удалось разобрать частоту %q", text)
	}
	hz := math.Round(v * multiplier)
	if hz >= math.MaxUint64 {
		return 0, fmt.Errorf("частота %q вне диапазона", text)
	}
	return uint64(hz), nil
}

// FormatFrequency форматирует частоту с приставкой СИ: "14.200 MHz".
func FormatFrequency(hz uint64) string {
	if hz == 0 {
		return "- Hz"
	}
	v := float64(hz)
	idx := 0
	for v >= 1000 && idx < len(siPrefixes)-1 {
		v /= 1000
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%d Hz", hz)
	}
	return fmt.Sprintf("%.3f %sHz", v, siPrefixes[idx])
}
