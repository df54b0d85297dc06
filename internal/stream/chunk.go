package stream

// Chunk is a run of consecutive frames in the same chop phase.
type Chunk struct {
	// Chop is the raw chop marker, 0 or 1.
	Chop  int
	Start float64
	End   float64
	Len   int
}

// Phase is the chop phase as numbered on the wire.
func (c Chunk) Phase() int32 {
	return int32(c.Chop) + 1
}

// IntegrationUS is the span of the chunk in whole microseconds.
func (c Chunk) IntegrationUS() int32 {
	return int32((c.End - c.Start) * 1e6)
}

// Chunks groups frames into runs of equal chop marker. chop and ts must
// have the same length.
func Chunks(chop []int, ts []float64) []Chunk {
	var out []Chunk
	for i := range chop {
		if n := len(out); n > 0 && out[n-1].Chop == chop[i] {
			out[n-1].End = ts[i]
			out[n-1].Len++
			continue
		}
		out = append(out, Chunk{Chop: chop[i], Start: ts[i], End: ts[i], Len: 1})
	}
	return out
}

// Complete returns how many leading chunks are safe to send while the file
// is still growing. The last one is held back while it is shorter than the
// one before it, since more of its frames may still arrive. A lone chunk
// has nothing to compare against and is held back too.
func Complete(chunks []Chunk) int {
	n := len(chunks)
	switch {
	case n < 2:
		return 0
	case chunks[n-1].Len < chunks[n-2].Len:
		return n - 1
	}
	return n
}
