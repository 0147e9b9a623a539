package memory

import "math"

// Cosine returns the cosine similarity of a and b over their common prefix.
// Zero-magnitude inputs yield 0.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SumSquares returns the sum of squared components.
func SumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

// Norm returns the euclidean length of v.
func Norm(v []float64) float64 {
	return math.Sqrt(SumSquares(v))
}

// Distance returns the euclidean distance between a and b. The shorter
// vector is treated as zero-padded.
func Distance(a, b []float64) float64 {
	n := max(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		s += (x - y) * (x - y)
	}
	return math.Sqrt(s)
}

// Mean averages the vectors component-wise, zero-padding shorter ones to the
// longest length.
func Mean(vs ...[]float64) []float64 {
	if len(vs) == 0 {
		return nil
	}
	n := 0
	for _, v := range vs {
		n = max(n, len(v))
	}
	out := make([]float64, n)
	for _, v := range vs {
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vs))
	}
	return out
}

// Blend returns (1-w)*old + w*incoming. A missing component on either side is
// taken from the other, so the result has the longer length.
func Blend(old, incoming []float64, w float64) []float64 {
	n := max(len(old), len(incoming))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(old):
			out[i] = incoming[i]
		case i >= len(incoming):
			out[i] = old[i]
		default:
			out[i] = (1-w)*old[i] + w*incoming[i]
		}
	}
	return out
}

// Variance returns the population variance of the components of v.
func Variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	m := sum / float64(len(v))
	var acc float64
	for _, x := range v {
		acc += (x - m) * (x - m)
	}
	return acc / float64(len(v))
}

// MeanAbs returns the mean absolute component value.
func MeanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += math.Abs(x)
	}
	return s / float64(len(v))
}

// Concat joins vectors into a fresh slice.
func Concat(vs ...[]float64) []float64 {
	n := 0
	for _, v := range vs {
		n += len(v)
	}
	out := make([]float64, 0, n)
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}

// Subsample keeps every step-th component starting at index 0.
func Subsample(v []float64, step int) []float64 {
	if step <= 1 {
		return Clone(v)
	}
	out := make([]float64, 0, (len(v)+step-1)/step)
	for i := 0; i < len(v); i += step {
		out = append(out, v[i])
	}
	return out
}

// Scale multiplies every component by f in a fresh slice.
func Scale(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * f
	}
	return out
}

// Clone copies v. A nil input stays nil.
func Clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}
