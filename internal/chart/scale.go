package chart

import (
	"math"
	"strconv"
)

var (
	e10 = math.Sqrt(50)
	e5  = math.Sqrt(10)
	e2  = math.Sqrt(2)
)

// Linear maps a continuous domain onto a pixel range.
type Linear struct {
	D0, D1 float64
	R0, R1 float64
}

func NewLinear(d0, d1, r0, r1 float64) Linear {
	return Linear{D0: d0, D1: d1, R0: r0, R1: r1}
}

// Map projects v into the range. A zero-width domain maps to the range midpoint.
func (s Linear) Map(v float64) float64 {
	if s.D0 == s.D1 {
		return (s.R0 + s.R1) / 2
	}
	return s.R0 + (v-s.D0)/(s.D1-s.D0)*(s.R1-s.R0)
}

// Nice extends the domain outward to round tick boundaries.
func (s Linear) Nice(count int) Linear {
	start, stop := s.D0, s.D1
	reversed := stop < start
	if reversed {
		start, stop = stop, start
	}

	// The domain only changes once the step converges.
	var prestep float64
	for i := 0; i < 10; i++ {
		step := tickIncrement(start, stop, float64(count))
		if step == prestep {
			if reversed {
				start, stop = stop, start
			}
			s.D0, s.D1 = start, stop
			return s
		}
		switch {
		case step > 0:
			start = math.Floor(start/step) * step
			stop = math.Ceil(stop/step) * step
		case step < 0:
			start = math.Ceil(start*step) / step
			stop = math.Floor(stop*step) / step
		default:
			return s
		}
		prestep = step
	}
	return s
}

// Ticks returns roughly count round values spanning the domain.
func (s Linear) Ticks(count int) []float64 {
	return Ticks(s.D0, s.D1, count)
}

// TickFormat returns a formatter with just enough decimals for the tick step.
func (s Linear) TickFormat(count int) func(float64) string {
	prec := 0
	if step := tickStep(s.D0, s.D1, float64(count)); step > 0 && !math.IsInf(step, 0) {
		prec = int(math.Max(0, -math.Floor(math.Log10(step))))
	}
	return func(v float64) string {
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
}

// Ticks returns about count values between start and stop, inclusive. Steps
// are 1, 2 or 5 times a power of ten. Sub-unit steps divide an integer index
// instead of multiplying a fraction so 0.3 prints as 0.3.
func Ticks(start, stop float64, count int) []float64 {
	if count <= 0 || math.IsNaN(start) || math.IsNaN(stop) {
		return nil
	}
	if start == stop {
		return []float64{start}
	}
	reversed := stop < start
	if reversed {
		start, stop = stop, start
	}

	i1, i2, inc := tickSpec(start, stop, float64(count))
	if !(i2 >= i1) {
		return nil
	}

	n := int(i2-i1) + 1
	ticks := make([]float64, n)
	for i := 0; i < n; i++ {
		k := i1 + float64(i)
		if reversed {
			k = i2 - float64(i)
		}
		if inc < 0 {
			ticks[i] = k / -inc
		} else {
			ticks[i] = k * inc
		}
	}
	return ticks
}

func tickSpec(start, stop, count float64) (i1, i2, inc float64) {
	step := (stop - start) / math.Max(0, count)
	power := math.Floor(math.Log10(step))
	errv := step / math.Pow(10, power)

	factor := 1.0
	switch {
	case errv >= e10:
		factor = 10
	case errv >= e5:
		factor = 5
	case errv >= e2:
		factor = 2
	}

	if power < 0 {
		inc = math.Pow(10, -power) / factor
		i1 = jsRound(start * inc)
		i2 = jsRound(stop * inc)
		if i1/inc < start {
			i1++
		}
		if i2/inc > stop {
			i2--
		}
		inc = -inc
	} else {
		inc = math.Pow(10, power) * factor
		i1 = jsRound(start / inc)
		i2 = jsRound(stop / inc)
		if i1*inc < start {
			i1++
		}
		if i2*inc > stop {
			i2--
		}
	}

	if i2 < i1 && 0.5 <= count && count < 2 {
		return tickSpec(start, stop, count*2)
	}
	return i1, i2, inc
}

// tickIncrement is positive for steps >= 1 and the negated inverse otherwise.
func tickIncrement(start, stop, count float64) float64 {
	_, _, inc := tickSpec(start, stop, count)
	return inc
}

func tickStep(start, stop, count float64) float64 {
	if stop < start {
		start, stop = stop, start
	}
	if start == stop {
		return 0
	}
	inc := tickIncrement(start, stop, count)
	if inc < 0 {
		return 1 / -inc
	}
	return inc
}

// jsRound rounds halves toward +Inf.
func jsRound(x float64) float64 {
	return math.Floor(x + 0.5)
}
