package govna

import (
	"fmt"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// averageReads усредняет несколько чтений одного сегмента.
// В каждой точке отбрасываются truncate значений, наиболее удаленных от среднего.
func averageReads(reads [][]DataPoint, truncate int) ([]DataPoint, error) {
	if len(reads) == 0 {
		return nil, fmt.Errorf("%w: нет чтений для усреднения", ErrSegmentMismatch)
	}
	if len(reads) == 1 {
		return reads[0], nil
	}

	n := len(reads[0])
	for r := 1; r < len(reads); r++ {
		if len(reads[r]) != n {
			return nil, fmt.Errorf("%w: чтение %d содержит %d точек вместо %d", ErrSegmentMismatch, r+1, len(reads[r]), n)
		}
		for i := range reads[r] {
			if reads[r][i].Frequency != reads[0][i].Frequency {
				return nil, fmt.Errorf("%w: частоты чтения %d расходятся в точке %d", ErrSegmentMismatch, r+1, i)
			}
		}
	}

	keep := len(reads) - truncate
	if truncate < 1 || keep < 1 {
		keep = len(reads)
	}

	out := make([]DataPoint, n)
	s11 := make([]complex128, len(reads))
	s21 := make([]complex128, len(reads))
	for i := 0; i < n; i++ {
		for r := range reads {
			s11[r] = reads[r][i].S11
			s21[r] = reads[r][i].S21
		}
		out[i] = DataPoint{
			Frequency: reads[0][i].Frequency,
			S11:       truncatedMean(s11, keep),
			S21:       truncatedMean(s21, keep),
		}
	}
	return out, nil
}

// truncatedMean оставляет keep значений, ближайших к среднему, и усредняет их.
func truncatedMean(values []complex128, keep int) complex128 {
	avg := complexMean(values)
	if keep >= len(values) {
		return avg
	}
	sorted := make([]complex128, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(a, b int) bool {
		return cmplx.Abs(sorted[a]-avg) < cmplx.Abs(sorted[b]-avg)
	})
	return complexMean(sorted[:keep])
}

func complexMean(values []complex128) complex128 {
	re := make([]float64, len(values))
	im := make([]float64, len(values))
	for i, v := range values {
		re[i], im[i] = real(v), imag(v)
	}
	return complex(stat.Mean(re, nil), stat.Mean(im, nil))
}
