package classifier

// resample converts audio between sample rates with cubic (Catmull-Rom)
// interpolation. Inputs shorter than four samples fall back to linear
// interpolation.
func resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		return in
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(in)) * ratio)
	out := make([]float32, outLen)

	if len(in) < 4 {
		last := len(in) - 1
		for i := range out {
			pos := float64(i) / ratio
			idx := min(int(pos), last)
			next := min(idx+1, last)
			frac := float32(pos - float64(idx))
			out[i] = in[idx] + (in[next]-in[idx])*frac
		}
		return out
	}

	lastIdx := len(in) - 3
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		idx = max(1, min(idx, lastIdx))
		t := float32(pos) - float32(idx)
		t2 := t * t

		y0, y1, y2, y3 := in[idx-1], in[idx], in[idx+1], in[idx+2]
		c3 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		c2 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		c1 := -0.5*y0 + 0.5*y2

		out[i] = c3*t*t2 + c2*t2 + c1*t + y1
	}
	return out
}
