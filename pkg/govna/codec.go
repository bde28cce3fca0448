package govna

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultPlausibleLimit - предел модуля компоненты S-параметра, выше которого
// значение считается помехой на линии.
const DefaultPlausibleLimit = 9.5

// DataPoint - одна точка измерения. Значение неизменяемо.
type DataPoint struct {
	Frequency uint64
	S11       complex128
	S21       complex128
}

// ParseLine разбирает строку ответа "freq s11re s11im s21re s21im".
func ParseLine(text string) (DataPoint, error) {
	fields := strings.Fields(text)
	if len(fields) != 5 {
		return DataPoint{}, fmt.Errorf("%w: %d полей вместо 5: %q", ErrMalformedLine, len(fields), text)
	}

	freq, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(fields[0], 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return DataPoint{}, fmt.Errorf("%w: частота %q не является целым числом", ErrMalformedLine, fields[0])
		}
		freq = int64(f)
	}
	if freq <= 0 {
		return DataPoint{}, fmt.Errorf("%w: частота %d Гц", ErrOutOfRange, freq)
	}

	var v [4]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return DataPoint{}, fmt.Errorf("%w: поле %d %q не является числом", ErrMalformedLine, i+2, fields[i+1])
		}
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return DataPoint{}, fmt.Errorf("%w: поле %d равно %v", ErrOutOfRange, i+2, v[i])
		}
	}

	return DataPoint{
		Frequency: uint64(freq),
		S11:       complex(v[0], v[1]),
		S21:       complex(v[2], v[3]),
	}, nil
}

// LineParser разбирает строки одного сегмента и следит за ростом частоты.
// Нулевое значение готово к работе без проверки правдоподобия.
type LineParser struct {
	// Limit - предел |re| и |im|; 0 отключает проверку.
	Limit float64

	prev uint64
}

func NewLineParser(limit float64) *LineParser {
	return &LineParser{Limit: limit}
}

func (p *LineParser) Parse(text string) (DataPoint, error) {
	dp, err := ParseLine(text)
	if err != nil {
		return DataPoint{}, err
	}
	if dp.Frequency <= p.prev {
		return DataPoint{}, fmt.Errorf("%w: частота %d Гц не больше предыдущей %d Гц", ErrOutOfRange, dp.Frequency, p.prev)
	}
	if p.Limit > 0 {
		for _, c := range []complex128{dp.S11, dp.S21} {
			if math.Abs(real(c)) > p.Limit || math.Abs(imag(c)) > p.Limit {
				return DataPoint{}, fmt.Errorf("%w: неправдоподобное значение %v на %d Гц", ErrOutOfRange, c, dp.Frequency)
			}
		}
	}
	p.prev = dp.Frequency
	return dp, nil
}

// ParseLines разбирает ответ сегмента целиком.
func ParseLines(lines []string, limit float64) ([]DataPoint, error) {
	p := NewLineParser(limit)
	points := make([]DataPoint, 0, len(lines))
	for i, line := range lines {
		dp, err := p.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("строка %d: %w", i+1, err)
		}
		points = append(points, dp)
	}
	return points, nil
}
